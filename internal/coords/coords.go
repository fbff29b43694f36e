// Package coords reads and writes the plain-text coordinate lists used to
// query a fitted distortion: one "x,y," position per input line and one
// "x,y,dx,dy," line per output.
package coords

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/distortion/internal/calib/geom"
)

// ErrCoordinate marks a line that does not start with two numeric fields.
var ErrCoordinate = errors.New("invalid coordinate")

// ParseLine reads the first two comma-separated fields of s as x and y.
// Further fields are ignored, so "x,y," and "x,y,dx,dy," both parse.
func ParseLine(s string) (geom.Vec2D, error) {
	fields := strings.SplitN(strings.TrimSpace(s), ",", 3)
	if len(fields) < 2 {
		return geom.Vec2D{}, fmt.Errorf("%w: missing y ordinate in %q", ErrCoordinate, s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return geom.Vec2D{}, fmt.Errorf("%w: failed to parse x-ordinate %q", ErrCoordinate, fields[0])
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return geom.Vec2D{}, fmt.Errorf("%w: failed to parse y-ordinate %q", ErrCoordinate, fields[1])
	}
	return geom.Vec2D{X: x, Y: y}, nil
}

// Read parses every non-blank line of r.
func Read(r io.Reader) ([]geom.Vec2D, error) {
	var out []geom.Vec2D
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		p, err := ParseLine(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading coordinates: %w", err)
	}
	return out, nil
}

// FormatLine renders a position and its displacement as "x,y,dx,dy,".
func FormatLine(pos, d geom.Vec2D) string {
	return formatFloat(pos.X) + "," + formatFloat(pos.Y) + "," +
		formatFloat(d.X) + "," + formatFloat(d.Y) + ","
}

// Write emits one FormatLine per position, with the displacement returned
// by eval.
func Write(w io.Writer, positions []geom.Vec2D, eval func(geom.Vec2D) geom.Vec2D) error {
	bw := bufio.NewWriter(w)
	for _, p := range positions {
		if _, err := bw.WriteString(FormatLine(p, eval(p)) + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
