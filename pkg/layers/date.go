package layers

import (
	"fmt"
	"math"
	"strings"
	"time"

	"tabprep/pkg/tensor"
)

const DefaultDateFormat = "YYYY-MM-DD"

// DateParsing turns date strings into (year, month, day, day of week)
// integer rows. Day of week counts from Sunday = 0. The separator of the
// configured format may be either '-' or '/' in the data.
type DateParsing struct {
	base
	Format  string
	layouts []string
}

func newDateParsing(name string, cfg Config) (Layer, error) {
	format, err := cfg.Str("date_format", DefaultDateFormat)
	if err != nil {
		return nil, err
	}
	layout := strings.NewReplacer("YYYY", "2006", "MM", "01", "DD", "02").Replace(format)
	if layout == format {
		return nil, fmt.Errorf("%w: date_format %q has no date fields", ErrInvalidConfig, format)
	}
	layouts := []string{layout}
	for _, pair := range [][2]string{{"-", "/"}, {"/", "-"}} {
		if alt := strings.ReplaceAll(layout, pair[0], pair[1]); alt != layout {
			layouts = append(layouts, alt)
		}
	}
	return &DateParsing{base: base{name, KindDateParsing}, Format: format, layouts: layouts}, nil
}

func (l *DateParsing) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.String); err != nil {
		return tensor.Spec{}, err
	}
	if inputs[0].Width() != 1 {
		return tensor.Spec{}, fmt.Errorf("%w: %s expects one date per sample, got %s",
			tensor.ErrShapeMismatch, l.kind, inputs[0])
	}
	return tensor.NewSpec(tensor.Int64, 4), nil
}

func (l *DateParsing) parse(s string) (time.Time, error) {
	var err error
	for _, layout := range l.layouts {
		var t time.Time
		if t, err = time.Parse(layout, strings.TrimSpace(s)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%s: invalid date %q: %w", l.name, s, err)
}

func (l *DateParsing) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	out := make([]int64, 0, 4*len(in.Strings))
	for _, s := range in.Strings {
		t, err := l.parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, int64(t.Year()), int64(t.Month()), int64(t.Day()), int64(t.Weekday()))
	}
	return tensor.NewInts([]int{in.Rows(), 4}, out), nil
}

func (l *DateParsing) Config() Config {
	return l.config("date_format", l.Format)
}

// Cycle lengths of the encoded date components. Years are placed on a
// thousand year circle so consecutive years stay close.
const (
	yearCycle    = 1000
	monthCycle   = 12
	dayCycle     = 31
	weekdayCycle = 7
)

// DateEncoding maps parsed dates to sine/cosine pairs of year, month, day
// and weekday, in that order.
type DateEncoding struct {
	base
}

func newDateEncoding(name string, _ Config) (Layer, error) {
	return &DateEncoding{base{name, KindDateEncoding}}, nil
}

func (l *DateEncoding) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	if err := expectDType(l.kind, inputs[0], tensor.Int64); err != nil {
		return tensor.Spec{}, err
	}
	if inputs[0].Rank() != 2 || inputs[0].Width() != 4 {
		return tensor.Spec{}, fmt.Errorf("%w: %s expects parsed dates of width 4, got %s",
			tensor.ErrShapeMismatch, l.kind, inputs[0])
	}
	return tensor.NewSpec(tensor.Float32, 8), nil
}

func (l *DateEncoding) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	out := make([]float64, 0, 8*in.Rows())
	for r := 0; r < in.Rows(); r++ {
		row := in.Ints[r*4 : r*4+4]
		out = append(out, EncodeDate(int(row[0]), int(row[1]), int(row[2]), int(row[3]))...)
	}
	return tensor.NewFloats([]int{in.Rows(), 8}, out), nil
}

func (l *DateEncoding) Config() Config {
	return l.config()
}

// EncodeDate returns the eight cyclic features of a parsed date.
func EncodeDate(year, month, day, weekday int) []float64 {
	enc := make([]float64, 0, 8)
	for _, p := range [][2]int{
		{year % yearCycle, yearCycle},
		{month - 1, monthCycle},
		{day - 1, dayCycle},
		{weekday, weekdayCycle},
	} {
		angle := 2 * math.Pi * float64(p[0]) / float64(p[1])
		enc = append(enc, math.Sin(angle), math.Cos(angle))
	}
	return enc
}

const (
	Winter = iota
	Spring
	Summer
	Fall
)

// SeasonOf maps a month (1-12) to Winter, Spring, Summer or Fall.
func SeasonOf(month int) int {
	return (month % 12) / 3
}

// Season appends a four column one-hot season indicator to each row. The
// month is read from column 1 of parsed (int64) dates, or recovered from the
// month sine/cosine pair (columns 2 and 3) of encoded (float32) dates.
type Season struct {
	base
}

func newSeason(name string, _ Config) (Layer, error) {
	return &Season{base{name, KindSeason}}, nil
}

func (l *Season) OutputSpec(inputs ...tensor.Spec) (tensor.Spec, error) {
	if err := expectInputs(l.kind, 1, len(inputs)); err != nil {
		return tensor.Spec{}, err
	}
	in := inputs[0]
	if in.Rank() != 2 || in.Width() < 4 {
		return tensor.Spec{}, fmt.Errorf("%w: %s expects date rows of width >= 4, got %s",
			tensor.ErrShapeMismatch, l.kind, in)
	}
	if err := expectNumeric(l.kind, in); err != nil {
		return tensor.Spec{}, err
	}
	return tensor.NewSpec(tensor.Float32, in.Width()+4), nil
}

func (l *Season) Call(inputs ...*tensor.Value) (*tensor.Value, error) {
	in := inputs[0]
	data, err := in.AsFloats()
	if err != nil {
		return nil, err
	}
	rows, width := in.Rows(), in.RowWidth()
	out := make([]float64, 0, rows*(width+4))
	for r := 0; r < rows; r++ {
		row := data[r*width : (r+1)*width]
		var month int
		if in.DType == tensor.Int64 {
			month = int(row[1])
		} else {
			month = monthFromEncoding(row[2], row[3])
		}
		onehot := make([]float64, 4)
		onehot[SeasonOf(month)] = 1
		out = append(out, row...)
		out = append(out, onehot...)
	}
	return tensor.NewFloats([]int{rows, width + 4}, out), nil
}

func (l *Season) Config() Config {
	return l.config()
}

func monthFromEncoding(sin, cos float64) int {
	angle := math.Atan2(sin, cos)
	if angle < 0 {
		angle += 2 * math.Pi
	}
	return int(math.Round(angle*monthCycle/(2*math.Pi)))%monthCycle + 1
}
