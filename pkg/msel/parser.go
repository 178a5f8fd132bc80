package msel

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/cyroid/cyroid/pkg/models"
)

// Timeline documents are markdown. Every inject is a section opened by a
// header line giving the offset from exercise start and a title:
//
//	## T+1:30 - Phishing wave
//	Description lines up to the actions marker.
//	**Actions:**
//	- Run command on web: echo hello
//	- Place file: payload.exe on db at /tmp/payload.exe
var (
	sectionPattern   = regexp.MustCompile(`(?m)^##\s+T\+(\d+):(\d+)\s+-\s+(.+)$`)
	placeFilePattern = regexp.MustCompile(`-\s+Place file:\s+(\S+)\s+on\s+(\S+)\s+at\s+(.+)$`)
	runCmdPattern    = regexp.MustCompile(`-\s+Run command on\s+(\S+):\s+(.+)$`)
)

const actionsMarker = "**Actions:**"

// Parse turns a timeline document into pending injects, numbered from 1
// in document order. Action bullets keep their order within a section;
// lines matching neither form are ignored.
func Parse(text string) ([]*models.Inject, error) {
	headers := sectionPattern.FindAllStringSubmatchIndex(text, -1)
	if len(headers) == 0 {
		return nil, models.Validationf("no timeline sections found (want %q headers)", "## T+H:MM - title")
	}

	injects := make([]*models.Inject, 0, len(headers))
	for i, loc := range headers {
		hours, _ := strconv.Atoi(text[loc[2]:loc[3]])
		minutes, _ := strconv.Atoi(text[loc[4]:loc[5]])

		end := len(text)
		if i+1 < len(headers) {
			end = headers[i+1][0]
		}
		body := text[loc[1]:end]

		injects = append(injects, &models.Inject{
			Sequence:    i + 1,
			TimeMinutes: hours*60 + minutes,
			Title:       strings.TrimSpace(text[loc[6]:loc[7]]),
			Description: description(body),
			Actions:     actions(body),
			Status:      models.InjectPending,
		})
	}
	return injects, nil
}

// description is the text between the header and the actions marker. A
// section without the marker has no description.
func description(body string) string {
	marker := strings.Index(body, actionsMarker)
	if marker < 0 {
		return ""
	}
	return strings.TrimSpace(body[:marker])
}

func actions(body string) []models.Action {
	var out []models.Action
	for _, line := range strings.Split(body, "\n") {
		if m := placeFilePattern.FindStringSubmatch(line); m != nil {
			out = append(out, models.NewPlaceFile(m[1], m[2], strings.TrimSpace(m[3])))
			continue
		}
		if m := runCmdPattern.FindStringSubmatch(line); m != nil {
			out = append(out, models.NewRunCommand(m[1], strings.TrimSpace(m[2])))
		}
	}
	return out
}
