package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mcoot/outlier/internal/api/response"
	"github.com/mcoot/outlier/internal/model"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	w      io.Writer
	errW   io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, w, errW io.Writer) *Output {
	return &Output{format: format, w: w, errW: errW}
}

// PrintSession prints the session as seen by self
func (o *Output) PrintSession(s *model.Session, self model.ParticipantID) {
	if o.format == OutputJSON {
		o.printJSON(response.SessionFromModel(s, self))
		return
	}
	o.printSession(s, self)
}

// PrintJoined prints a freshly created or joined session with the new
// participant ID
func (o *Output) PrintJoined(s *model.Session, self model.ParticipantID) {
	if o.format == OutputJSON {
		o.printJSON(response.JoinResponse{
			Session:       response.SessionFromModel(s, self),
			ParticipantID: string(self),
		})
		return
	}
	fmt.Fprintf(o.w, "Participant ID: %s\n", self)
	o.printSession(s, self)
}

// PrintCategories prints category names
func (o *Output) PrintCategories(names []string) {
	if o.format == OutputJSON {
		o.printJSON(response.CategoryList{Categories: names})
		return
	}
	for _, name := range names {
		fmt.Fprintln(o.w, name)
	}
}

// PrintCategory prints one category and its words
func (o *Output) PrintCategory(c model.Category) {
	if o.format == OutputJSON {
		o.printJSON(response.CategoryFromModel(c))
		return
	}
	fmt.Fprintf(o.w, "Category: %s\n", c.Name)
	fmt.Fprintf(o.w, "Words (%d): %s\n", len(c.Words), strings.Join(c.Words, ", "))
}

// PrintHealth prints the health check result
func (o *Output) PrintHealth(h response.Health) {
	if o.format == OutputJSON {
		o.printJSON(h)
		return
	}
	fmt.Fprintf(o.w, "Status: %s\n", h.Status)
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == OutputJSON {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(o.errW, string(data))
	} else {
		fmt.Fprintf(o.errW, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == OutputJSON {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.w, string(data))
	} else {
		fmt.Fprintln(o.w, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printSession(s *model.Session, self model.ParticipantID) {
	fmt.Fprintf(o.w, "Session: %s\n", s.ID)
	fmt.Fprintf(o.w, "Join code: %s\n", s.JoinCode)
	fmt.Fprintf(o.w, "Status: %s\n", s.Status)

	fmt.Fprintf(o.w, "Participants (%d):\n", len(s.Participants))
	for _, p := range s.Participants {
		var tags []string
		if p.IsHost {
			tags = append(tags, "host")
		}
		if p.IsReady {
			tags = append(tags, "ready")
		}
		if p.ID == self {
			tags = append(tags, "you")
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " [" + strings.Join(tags, ", ") + "]"
		}
		fmt.Fprintf(o.w, "  - %s (%s)%s\n", p.DisplayName, p.ID, suffix)
	}

	if s.Status != model.SessionStatusPlaying {
		return
	}

	fmt.Fprintf(o.w, "\nCategory: %s\n", s.CurrentCategoryName)
	me := s.Participant(self)
	switch {
	case me == nil:
		fmt.Fprintln(o.w, "You are watching this round.")
	case me.IsOutlier:
		fmt.Fprintln(o.w, "You are the OUTLIER. Blend in!")
	default:
		fmt.Fprintf(o.w, "Secret word: %s\n", s.CurrentSecretWord)
	}
	if len(s.CategoryWordBank) > 0 {
		fmt.Fprintf(o.w, "Word bank: %s\n", strings.Join(s.CategoryWordBank, ", "))
	}
}
