package units

import (
	"errors"
	"fmt"
	"github.com/shopspring/decimal"
	"strings"
	"time"
	"unicode"
)

type Dimension int

const (
	Dimensionless Dimension = iota
	Length
	Volume
	Time
	FlowRate
	Temperature
	Frequency
)

var dimensions = []string{
	Dimensionless: "dimensionless",
	Length:        "length",
	Volume:        "volume",
	Time:          "time",
	FlowRate:      "flow rate",
	Temperature:   "temperature",
	Frequency:     "frequency",
}

func (d Dimension) String() string {
	if int(d) < len(dimensions) {
		return dimensions[d]
	}
	return "unknown"
}

var (
	ErrSyntax      = errors.New("invalid quantity")
	ErrUnknownUnit = errors.New("unknown unit")
	ErrDimension   = errors.New("dimension mismatch")
)

// unit converts a magnitude to the base unit of its dimension:
// mm, mL, s, mL/min, degC, Hz.
type unit struct {
	dim    Dimension
	factor decimal.Decimal
	offset decimal.Decimal
}

func mustDec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func scale(dim Dimension, factor string) unit {
	return unit{dim: dim, factor: mustDec(factor)}
}

var table = map[string]unit{
	"":   scale(Dimensionless, "1"),
	"m":  scale(Length, "1000"),
	"cm": scale(Length, "10"),
	"mm": scale(Length, "1"),
	"um": scale(Length, "0.001"),
	"µm": scale(Length, "0.001"),
	"in": scale(Length, "25.4"),
	"ft": scale(Length, "304.8"),

	"l":  scale(Volume, "1000"),
	"ml": scale(Volume, "1"),
	"cc": scale(Volume, "1"),
	"ul": scale(Volume, "0.001"),
	"µl": scale(Volume, "0.001"),

	"ms":  scale(Time, "0.001"),
	"s":   scale(Time, "1"),
	"sec": scale(Time, "1"),
	"min": scale(Time, "60"),
	"h":   scale(Time, "3600"),
	"hr":  scale(Time, "3600"),

	"hz":  scale(Frequency, "1"),
	"khz": scale(Frequency, "1000"),

	"degc": scale(Temperature, "1"),
	"°c":   scale(Temperature, "1"),
	"c":    scale(Temperature, "1"),
	"degf": {dim: Temperature, factor: mustDec("5").Div(mustDec("9")), offset: mustDec("-32")},
	"°f":   {dim: Temperature, factor: mustDec("5").Div(mustDec("9")), offset: mustDec("-32")},
	"k":    {dim: Temperature, factor: mustDec("1"), offset: mustDec("-273.15")},
	"degk": {dim: Temperature, factor: mustDec("1"), offset: mustDec("-273.15")},
}

var aliases = map[string]string{
	"meter": "m", "meters": "m", "millimeter": "mm", "millimeters": "mm",
	"centimeter": "cm", "centimeters": "cm", "inch": "in", "inches": "in",
	"liter": "l", "liters": "l", "milliliter": "ml", "milliliters": "ml",
	"microliter": "ul", "microliters": "ul",
	"second": "s", "seconds": "s", "minute": "min", "minutes": "min",
	"hour": "h", "hours": "h", "millisecond": "ms", "milliseconds": "ms",
}

func lookup(name string) (unit, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[key]; ok {
		key = a
	}
	u, ok := table[key]
	return u, ok
}

var minuteFactor = mustDec("60")

// resolve handles simple units and volume/time compounds. Flow rates are
// normalised to mL/min.
func resolve(name string) (unit, error) {
	name = strings.TrimSpace(name)
	if num, den, ok := strings.Cut(name, "/"); ok {
		v, found := lookup(num)
		if !found || v.dim != Volume {
			return unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
		}
		t, found := lookup(den)
		if !found || t.dim != Time {
			return unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
		}
		return unit{
			dim:    FlowRate,
			factor: v.factor.Mul(minuteFactor).Div(t.factor),
		}, nil
	}
	u, ok := lookup(name)
	if !ok {
		return unit{}, fmt.Errorf("%w: %q", ErrUnknownUnit, name)
	}
	return u, nil
}

// Quantity is a magnitude in a named unit with a known dimension.
type Quantity struct {
	Magnitude decimal.Decimal
	Unit      string
	dim       Dimension
	base      decimal.Decimal
}

func (q Quantity) Dimension() Dimension { return q.dim }

// Base returns the magnitude in the base unit of the quantity's dimension.
func (q Quantity) Base() float64 {
	return q.base.InexactFloat64()
}

func (q Quantity) IsZero() bool { return q.base.IsZero() }

func (q Quantity) Sign() int { return q.base.Sign() }

func (q Quantity) String() string {
	if q.Unit == "" {
		return q.Magnitude.String()
	}
	return q.Magnitude.String() + " " + q.Unit
}

func (q Quantity) Equal(o Quantity) bool {
	return q.dim == o.dim && q.base.Equal(o.base)
}

// In converts the quantity to the given unit.
func (q Quantity) In(name string) (float64, error) {
	u, err := resolve(name)
	if err != nil {
		return 0, err
	}
	if u.dim != q.dim {
		return 0, fmt.Errorf("%w: cannot convert %s to %s", ErrDimension, q.dim, u.dim)
	}
	return q.base.Div(u.factor).Sub(u.offset).InexactFloat64(), nil
}

func (q Quantity) Expect(d Dimension) error {
	if q.dim != d {
		return fmt.Errorf("%w: %s is a %s, expected %s", ErrDimension, q, q.dim, d)
	}
	return nil
}

func New(magnitude float64, name string) (Quantity, error) {
	return newQuantity(decimal.NewFromFloat(magnitude), name)
}

func newQuantity(m decimal.Decimal, name string) (Quantity, error) {
	u, err := resolve(name)
	if err != nil {
		return Quantity{}, err
	}
	return Quantity{
		Magnitude: m,
		Unit:      strings.TrimSpace(name),
		dim:       u.dim,
		base:      m.Add(u.offset).Mul(u.factor),
	}, nil
}

func Must(q Quantity, err error) Quantity {
	if err != nil {
		panic(err)
	}
	return q
}

// Parse reads strings such as "10 mL/min", "1/16 in", "-2.5ml/min" or "25 degC".
func Parse(s string) (Quantity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Quantity{}, fmt.Errorf("%w: empty string", ErrSyntax)
	}
	i := 0
	for i < len(s) {
		r := rune(s[i])
		if unicode.IsDigit(r) || r == '.' || r == '-' || r == '+' || r == 'e' || r == 'E' {
			i++
			continue
		}
		if r == '/' && i+1 < len(s) && unicode.IsDigit(rune(s[i+1])) {
			i++
			continue
		}
		break
	}
	// "e" is ambiguous with units; only keep it when it is followed by a digit or sign.
	for i > 0 && (s[i-1] == 'e' || s[i-1] == 'E') {
		i--
	}
	lit, name := s[:i], s[i:]
	m, err := parseMagnitude(lit)
	if err != nil {
		return Quantity{}, fmt.Errorf("%w: %q", ErrSyntax, s)
	}
	return newQuantity(m, name)
}

func parseMagnitude(lit string) (decimal.Decimal, error) {
	if num, den, ok := strings.Cut(lit, "/"); ok {
		n, err := decimal.NewFromString(num)
		if err != nil {
			return decimal.Decimal{}, err
		}
		d, err := decimal.NewFromString(den)
		if err != nil {
			return decimal.Decimal{}, err
		}
		if d.IsZero() {
			return decimal.Decimal{}, ErrSyntax
		}
		return n.Div(d), nil
	}
	return decimal.NewFromString(lit)
}

// ParseAs parses s and checks its dimension.
func ParseAs(s string, d Dimension) (Quantity, error) {
	q, err := Parse(s)
	if err != nil {
		return q, err
	}
	return q, q.Expect(d)
}

// ParseDuration accepts Go duration syntax ("1m30s") or a time quantity ("5 min").
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(strings.TrimSpace(s)); err == nil {
		return d, nil
	}
	q, err := ParseAs(s, Time)
	if err != nil {
		return 0, err
	}
	return time.Duration(q.base.Mul(decimal.NewFromInt(int64(time.Second))).IntPart()), nil
}
