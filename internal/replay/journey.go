// Package replay drives a tracker through a scripted visitor journey.
package replay

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/target"
)

// Journey is one visitor's scripted page load.
type Journey struct {
	Collector string    `yaml:"collector"`
	StartURL  string    `yaml:"start_url"`
	Referrer  string    `yaml:"referrer"`
	UserAgent string    `yaml:"user_agent"`
	User      yaml.Node `yaml:"user_id"`
	Viewport  Viewport  `yaml:"viewport"`
	Steps     []Step    `yaml:"steps"`
}

type Viewport struct {
	Height   float64 `yaml:"height"`
	Document float64 `yaml:"document"`
}

// Step holds exactly one action.
type Step struct {
	PageView   *string       `yaml:"page_view"`
	Navigate   string        `yaml:"navigate"`
	Wait       time.Duration `yaml:"wait"`
	Scroll     *float64      `yaml:"scroll"`
	Resize     *Viewport     `yaml:"resize"`
	Click      *Element      `yaml:"click"`
	FormInput  *FormField    `yaml:"form_input"`
	FormSubmit string        `yaml:"form_submit"`
	Abandon    *FormField    `yaml:"abandon"`
	Visibility string        `yaml:"visibility"`
	Heartbeat  bool          `yaml:"heartbeat"`
	TimeOnPage time.Duration `yaml:"time_on_page"`
	PageExit   *Element      `yaml:"page_exit"`
	Unload     bool          `yaml:"unload"`
}

// Element describes a UI node and, through Parent, its ancestors.
type Element struct {
	ID          string   `yaml:"id"`
	Tag         string   `yaml:"tag"`
	Text        string   `yaml:"text"`
	AriaLabel   string   `yaml:"aria_label"`
	Title       string   `yaml:"title"`
	Classes     []string `yaml:"classes"`
	Href        string   `yaml:"href"`
	Role        string   `yaml:"role"`
	Interactive bool     `yaml:"interactive"`
	Analytics   string   `yaml:"analytics"`
	Parent      *Element `yaml:"parent"`
	X           int      `yaml:"x"`
	Y           int      `yaml:"y"`
}

type FormField struct {
	Form   string `yaml:"form"`
	Field  string `yaml:"field"`
	Reason string `yaml:"reason"`
}

// LoadJourney reads and validates a journey file.
func LoadJourney(path string) (*Journey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read journey: %w", err)
	}
	return ParseJourney(data)
}

func ParseJourney(data []byte) (*Journey, error) {
	var journey Journey
	if err := yaml.Unmarshal(data, &journey); err != nil {
		return nil, fmt.Errorf("failed to parse journey: %w", err)
	}
	if journey.Viewport.Height == 0 {
		journey.Viewport.Height = 900
	}
	if journey.Viewport.Document == 0 {
		journey.Viewport.Document = journey.Viewport.Height
	}
	if journey.UserAgent == "" {
		journey.UserAgent = "browsetrace-replay"
	}
	if err := journey.Validate(); err != nil {
		return nil, err
	}
	return &journey, nil
}

func (j *Journey) Validate() error {
	if j.StartURL == "" {
		return errors.New("journey: start_url is required")
	}
	if len(j.Steps) == 0 {
		return errors.New("journey: no steps")
	}
	for i, step := range j.Steps {
		if n := step.actions(); n != 1 {
			return fmt.Errorf("journey: step %d has %d actions, want exactly one", i+1, n)
		}
	}
	if _, err := j.UserID(); err != nil {
		return err
	}
	return nil
}

// UserID maps the user_id key: missing stays absent, null is anonymous.
func (j *Journey) UserID() (models.UserID, error) {
	switch {
	case j.User.Kind == 0:
		return models.UserID{}, nil
	case j.User.Kind == yaml.ScalarNode && j.User.ShortTag() == "!!null":
		return models.AnonymousUser(), nil
	case j.User.Kind == yaml.ScalarNode:
		return models.KnownUser(j.User.Value), nil
	default:
		return models.UserID{}, errors.New("journey: user_id must be a string or null")
	}
}

func (s Step) actions() int {
	set := []bool{
		s.PageView != nil,
		s.Navigate != "",
		s.Wait != 0,
		s.Scroll != nil,
		s.Resize != nil,
		s.Click != nil,
		s.FormInput != nil,
		s.FormSubmit != "",
		s.Abandon != nil,
		s.Visibility != "",
		s.Heartbeat,
		s.TimeOnPage != 0,
		s.PageExit != nil,
		s.Unload,
	}
	n := 0
	for _, ok := range set {
		if ok {
			n++
		}
	}
	return n
}

// Node converts the element chain into resolver nodes.
func (e *Element) Node() *target.Node {
	if e == nil {
		return nil
	}
	return &target.Node{
		ID:           e.ID,
		AnalyticsTag: e.Analytics,
		AriaLabel:    e.AriaLabel,
		Title:        e.Title,
		Classes:      e.Classes,
		Text:         e.Text,
		TagName:      e.Tag,
		Href:         e.Href,
		Role:         e.Role,
		Interactive:  e.Interactive,
		Parent:       e.Parent.Node(),
	}
}

func formNode(id string) *target.Node {
	return &target.Node{ID: id, TagName: "form"}
}
