package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// fold lowercases s and strips Spanish diacritics.
func fold(s string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(s)))
}

var weekdays = map[string]time.Weekday{
	"domingo": time.Sunday, "lunes": time.Monday, "martes": time.Tuesday,
	"miercoles": time.Wednesday, "jueves": time.Thursday, "viernes": time.Friday,
	"sabado": time.Saturday,
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday, "friday": time.Friday,
	"saturday": time.Saturday,
}

var (
	isoDate   = regexp.MustCompile(`^\d{4}-\d{1,2}-\d{1,2}$`)
	slashDate = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})(?:[/.-](\d{2,4}))?$`)
)

// ResolveDate turns an absolute or relative date expression into a calendar
// date in now's location. It understands YYYY-MM-DD, DD/MM[/YYYY],
// hoy/mañana/pasado mañana (and English equivalents) and weekday names, which
// resolve to the next such day.
func ResolveDate(expr string, now time.Time) (time.Time, error) {
	s := fold(expr)
	s = strings.TrimPrefix(s, "el ")
	s = strings.TrimPrefix(s, "este ")
	s = strings.TrimPrefix(s, "proximo ")
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch s {
	case "":
		return time.Time{}, fmt.Errorf("empty date")
	case "hoy", "today":
		return today, nil
	case "manana", "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "pasado manana", "day after tomorrow":
		return today.AddDate(0, 0, 2), nil
	}

	if wd, ok := weekdays[s]; ok {
		days := (int(wd) - int(today.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return today.AddDate(0, 0, days), nil
	}

	if isoDate.MatchString(s) {
		parts := strings.Split(s, "-")
		y, _ := strconv.Atoi(parts[0])
		m, _ := strconv.Atoi(parts[1])
		d, _ := strconv.Atoi(parts[2])
		return validDate(y, m, d, now.Location())
	}

	if m := slashDate.FindStringSubmatch(s); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		y := today.Year()
		if m[3] != "" {
			y, _ = strconv.Atoi(m[3])
			if y < 100 {
				y += 2000
			}
		}
		return validDate(y, mo, d, now.Location())
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", expr)
}

func validDate(y, m, d int, loc *time.Location) (time.Time, error) {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, loc)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return time.Time{}, fmt.Errorf("invalid date %04d-%02d-%02d", y, m, d)
	}
	return t, nil
}

var clockPattern = regexp.MustCompile(`^(\d{1,2})(?:[:.h](\d{2}))?\s*(am|pm|hs|h)?$`)

var meridiemFolder = strings.NewReplacer("p.m.", "pm", "a.m.", "am", "p. m.", "pm", "a. m.", "am")

// NormalizeTime converts "15:00", "3pm", "3:30 pm" or "15hs" to HH:MM.
func NormalizeTime(expr string) (string, bool) {
	s := meridiemFolder.Replace(fold(expr))
	s = strings.TrimSpace(strings.TrimPrefix(s, "a las "))
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	h, _ := strconv.Atoi(m[1])
	min := 0
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "pm":
		if h < 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	}
	if h > 23 || min > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, min), true
}

// DueDate combines a date expression and an optional clock time into a
// single instant in now's location. An unparseable clock is ignored.
func DueDate(date, clock string, now time.Time) (time.Time, error) {
	day, err := ResolveDate(date, now)
	if err != nil {
		return time.Time{}, err
	}
	hhmm, ok := NormalizeTime(clock)
	if clock == "" || !ok {
		return day, nil
	}
	h, _ := strconv.Atoi(hhmm[:2])
	m, _ := strconv.Atoi(hhmm[3:])
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location()), nil
}
