package tracker

import (
	"fmt"
	"sync"

	"github.com/vincentbai/browsetrace/internal/target"
)

// Form abandonment reasons.
const (
	ReasonNavigation = "navigation"
	ReasonPageUnload = "page_unload"
)

type touchedForm struct {
	node   *target.Node
	fields map[string]struct{}
}

// formMonitor remembers forms the visitor typed into but has not submitted.
type formMonitor struct {
	mu      sync.Mutex
	touched map[string]*touchedForm
	order   []string
}

func newFormMonitor() *formMonitor {
	return &formMonitor{touched: make(map[string]*touchedForm)}
}

func formKey(form *target.Node) string {
	switch {
	case form.ID != "":
		return "id:" + form.ID
	case form.AnalyticsTag != "":
		return "tag:" + form.AnalyticsTag
	default:
		return fmt.Sprintf("node:%p", form)
	}
}

func (m *formMonitor) input(form *target.Node, field string) {
	if form == nil {
		return
	}
	key := formKey(form)

	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.touched[key]
	if !ok {
		state = &touchedForm{node: form, fields: make(map[string]struct{})}
		m.touched[key] = state
		m.order = append(m.order, key)
	}
	if field != "" {
		state.fields[field] = struct{}{}
	}
}

func (m *formMonitor) submit(form *target.Node) {
	if form == nil {
		return
	}
	key := formKey(form)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.touched, key)
}

// drain returns the touched forms in first-touch order and forgets them.
func (m *formMonitor) drain() []*touchedForm {
	m.mu.Lock()
	defer m.mu.Unlock()

	var forms []*touchedForm
	for _, key := range m.order {
		if state, ok := m.touched[key]; ok {
			forms = append(forms, state)
			delete(m.touched, key)
		}
	}
	m.touched = make(map[string]*touchedForm)
	m.order = nil
	return forms
}
