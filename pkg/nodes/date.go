package nodes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	derrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/flow"
	"github.com/wehubfusion/Daedalus/pkg/runtime"
	"github.com/wehubfusion/Daedalus/pkg/typedesc"
)

var dateFormats = map[string]string{
	"ANSIC":       time.ANSIC,
	"UnixDate":    time.UnixDate,
	"RubyDate":    time.RubyDate,
	"RFC822":      time.RFC822,
	"RFC822Z":     time.RFC822Z,
	"RFC850":      time.RFC850,
	"RFC1123":     time.RFC1123,
	"RFC1123Z":    time.RFC1123Z,
	"RFC3339":     time.RFC3339,
	"RFC3339Nano": time.RFC3339Nano,
	"Kitchen":     time.Kitchen,
	"Stamp":       time.Stamp,
	"DateTime":    time.DateTime,
	"DateOnly":    time.DateOnly,
	"TimeOnly":    time.TimeOnly,
}

var dateStyles = map[string]string{
	"YYYY_MM_DD":       "2006-01-02",
	"DD_MM_YYYY":       "02-01-2006",
	"MM_DD_YYYY":       "01-02-2006",
	"YYYY_MM_DD_SLASH": "2006/01/02",
	"DD_MM_YYYY_SLASH": "02/01/2006",
	"MM_DD_YYYY_SLASH": "01/02/2006",
}

var timeStyles = map[string]string{
	"24_HOUR":    "15:04:05",
	"12_HOUR":    "03:04:05 PM",
	"24_HOUR_HM": "15:04",
	"12_HOUR_HM": "03:04 PM",
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DateFormat parses a date string in one layout and writes it in another,
// optionally moving it between time zones. An empty input writes nothing.
type DateFormat struct {
	inFormat      string
	inLayout      string
	outLayout     string
	inLoc, outLoc *time.Location
	output        string
}

func (n *DateFormat) Fields() []runtime.FieldSpec {
	formats := keys(dateFormats)
	return []runtime.FieldSpec{
		{Name: "input", Kind: runtime.FieldTemplate, Type: typedesc.String, Mandatory: true},
		{Name: "inFormat", Kind: runtime.FieldEnum, Enum: formats, Default: "RFC3339"},
		{Name: "outFormat", Kind: runtime.FieldEnum, Enum: formats, Default: "RFC3339"},
		{Name: "inTimezone", Kind: runtime.FieldString, Argument: true},
		{Name: "outTimezone", Kind: runtime.FieldString, Argument: true},
		{Name: "dateStyle", Kind: runtime.FieldString},
		{Name: "timeStyle", Kind: runtime.FieldString},
		{Name: "output", Kind: runtime.FieldString, Mandatory: true},
	}
}

func (n *DateFormat) Bind(b *runtime.Bindings) error {
	n.inFormat = b.String("inFormat")
	n.inLayout = dateFormats[n.inFormat]
	n.output = b.String("output")

	outFormat := b.String("outFormat")
	layout, err := outputLayout(outFormat, b.String("dateStyle"), b.String("timeStyle"))
	if err != nil {
		return err
	}
	n.outLayout = layout

	if n.inLoc, err = location(b.String("inTimezone")); err != nil {
		return err
	}
	if n.outLoc, err = location(b.String("outTimezone")); err != nil {
		return err
	}
	return nil
}

func outputLayout(format, dateStyle, timeStyle string) (string, error) {
	dateLayout, timeLayout := time.DateOnly, time.TimeOnly
	if dateStyle != "" {
		l, ok := dateStyles[dateStyle]
		if !ok {
			return "", derrors.Validation("unknown date style %q, expected one of %s", dateStyle, strings.Join(keys(dateStyles), ", "))
		}
		if format != "DateOnly" && format != "DateTime" {
			return "", derrors.Validation("dateStyle only applies to DateOnly and DateTime output")
		}
		dateLayout = l
	}
	if timeStyle != "" {
		l, ok := timeStyles[timeStyle]
		if !ok {
			return "", derrors.Validation("unknown time style %q, expected one of %s", timeStyle, strings.Join(keys(timeStyles), ", "))
		}
		if format != "TimeOnly" && format != "DateTime" {
			return "", derrors.Validation("timeStyle only applies to TimeOnly and DateTime output")
		}
		timeLayout = l
	}

	switch format {
	case "DateOnly":
		return dateLayout, nil
	case "TimeOnly":
		return timeLayout, nil
	case "DateTime":
		return dateLayout + " " + timeLayout, nil
	}
	return dateFormats[format], nil
}

func location(name string) (*time.Location, error) {
	if name == "" {
		return nil, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, derrors.NewError(derrors.KindValidation, fmt.Sprintf("invalid timezone %q", name), err)
	}
	return loc, nil
}

// normalizeDate completes partial DateTime input and expands compact
// YYYYMMDD dates.
func normalizeDate(s, format string) string {
	switch format {
	case "DateTime":
		if len(s) == 10 && strings.Count(s, "-") == 2 {
			return s + " 00:00:00"
		}
		if len(s) == 16 && strings.Count(s, ":") == 1 {
			return s + ":00"
		}
	case "DateOnly":
		if len(s) == 8 && !strings.ContainsAny(s, "-/") {
			return s[:4] + "-" + s[4:6] + "-" + s[6:]
		}
	}
	return s
}

func (n *DateFormat) Modify(_ context.Context, c *runtime.Container, fm *flow.FlowMap) error {
	v, err := fm.Eval(c.Bindings().Term("input"))
	if err != nil {
		return err
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if v == nil || s == "" {
		return nil
	}
	s = normalizeDate(s, n.inFormat)

	var t time.Time
	if n.inLoc != nil {
		t, err = time.ParseInLocation(n.inLayout, s, n.inLoc)
	} else {
		t, err = time.Parse(n.inLayout, s)
	}
	if err != nil {
		return derrors.Node(fmt.Sprintf("date %q does not match %s", s, n.inFormat), err)
	}
	if n.outLoc != nil {
		t = t.In(n.outLoc)
	}
	return fm.Output(n.output, t.Format(n.outLayout))
}
