package extractor

import (
	"regexp"
	"strings"

	"github.com/essaycontest/submitproc/internal/model"
)

// labelAliases maps a canonical field name to every English/Spanish
// label that can introduce it on the official typed form.
var labelAliases = map[string][]string{
	"student_name":       {"student's name", "nombre del estudiante", "name", "nombre"},
	"father_figure_name":  {"father-figure name", "father figure name", "nombre de la figura paterna"},
	"phone":              {"phone", "telefono", "teléfono"},
	"email":              {"email", "correo", "correo electronico"},
	"school_name":        {"school", "escuela"},
	"grade":              {"grade", "grado"},
	"teacher_name":       {"teacher", "maestro", "maestra"},
	"city_or_location":   {"city", "ciudad"},
}

var sameLineFields = []string{"student_name", "father_figure_name", "phone", "email"}

// PositionalResult is the output of the typed-form positional path.
type PositionalResult struct {
	Fields model.ExtractedFields
}

// ExtractPositional implements the typed-form positional extraction path
//: same-line value after a label for student_name,
// father_figure_name, phone, email; next-line block for the essay body;
// label-value-or-blank detection for grade and school_name. No LLM call.
func ExtractPositional(text string) PositionalResult {
	lines := strings.Split(text, "\n")
	fields := model.ExtractedFields{}

	for _, fieldName := range sameLineFields {
		if v := findSameLineValue(lines, labelAliases[fieldName]); v != "" {
			setField(&fields, fieldName, v)
		}
	}

	if v := findLabelOrNextLineValue(lines, labelAliases["grade"]); v != "" {
		setField(&fields, "grade", v)
	}
	if v := findLabelOrNextLineValue(lines, labelAliases["school_name"]); v != "" {
		setField(&fields, "school_name", v)
	}
	if v := findSameLineValue(lines, labelAliases["teacher_name"]); v != "" {
		setField(&fields, "teacher_name", v)
	}
	if v := findSameLineValue(lines, labelAliases["city_or_location"]); v != "" {
		setField(&fields, "city_or_location", v)
	}

	if essay := nextLineBlock(lines); essay != "" {
		setField(&fields, "essay_text", essay)
	}

	return PositionalResult{Fields: fields}
}

var labelValueSplit = regexp.MustCompile(`^\s*(.+?)\s*[:\-]\s*(.*)$`)

// findSameLineValue scans for a line whose label prefix matches one of
// the aliases and returns the value after the delimiter on that same
// line.
func findSameLineValue(lines []string, aliases []string) string {
	for _, line := range lines {
		lower := strings.ToLower(line)
		for _, alias := range aliases {
			if strings.HasPrefix(lower, alias) {
				m := labelValueSplit.FindStringSubmatch(line)
				if len(m) == 3 && strings.TrimSpace(m[2]) != "" {
					return strings.TrimSpace(m[2])
				}
			}
		}
	}
	return ""
}

// findLabelOrNextLineValue handles fields whose value may be on the same
// line or, if blank, on the next non-empty line.
func findLabelOrNextLineValue(lines []string, aliases []string) string {
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, alias := range aliases {
			if strings.HasPrefix(lower, alias) {
				m := labelValueSplit.FindStringSubmatch(line)
				if len(m) == 3 && strings.TrimSpace(m[2]) != "" {
					return strings.TrimSpace(m[2])
				}
				if i+1 < len(lines) && strings.TrimSpace(lines[i+1]) != "" {
					return strings.TrimSpace(lines[i+1])
				}
				return ""
			}
		}
	}
	return ""
}

// nextLineBlock returns everything after the last recognized form label,
// treated as the essay body block.
func nextLineBlock(lines []string) string {
	lastLabelLine := -1
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, aliases := range labelAliases {
			for _, alias := range aliases {
				if strings.HasPrefix(lower, alias) {
					lastLabelLine = i
				}
			}
		}
	}
	if lastLabelLine == -1 || lastLabelLine+1 >= len(lines) {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[lastLabelLine+1:], "\n"))
}

func setField(fields *model.ExtractedFields, name, value string) {
	switch name {
	case "student_name":
		fields.StudentName = &value
	case "school_name":
		fields.SchoolName = &value
	case "grade":
		fields.Grade = &value
	case "teacher_name":
		fields.TeacherName = &value
	case "father_figure_name":
		fields.FatherFigureName = &value
	case "phone":
		fields.Phone = &value
	case "email":
		fields.Email = &value
	case "city_or_location":
		fields.CityOrLocation = &value
	case "essay_text":
		fields.EssayText = &value
	}
}
