// Package target resolves a clicked UI node to an analytics identifier and a
// human-readable label, independent of any rendering toolkit.
package target

import (
	"strings"
	"unicode/utf8"
)

const maxTextLength = 100

// Node is the abstract shape of a UI element as seen by the tracker.
type Node struct {
	ID           string
	AnalyticsTag string // explicit tracking attribute, e.g. data-track
	AriaLabel    string
	Title        string
	Classes      []string
	Text         string
	TagName      string
	Href         string
	Role         string
	Interactive  bool
	Parent       *Node
}

var (
	interactiveTags  = map[string]bool{"button": true, "a": true, "summary": true}
	interactiveRoles = map[string]bool{"button": true, "link": true, "menuitem": true, "tab": true}
)

// IsInteractive reports button/link semantics.
func (n *Node) IsInteractive() bool {
	if n == nil {
		return false
	}
	return n.Interactive ||
		interactiveTags[strings.ToLower(n.TagName)] ||
		interactiveRoles[strings.ToLower(n.Role)]
}

// ClassName joins the class list the way the DOM exposes it.
func (n *Node) ClassName() string {
	return strings.Join(n.Classes, " ")
}

// Resolution is what the event builder records for a node.
type Resolution struct {
	ElementID string
	Text      string
	OwnText   string // the leaf's own label, before bubbling
	Control   *Node  // the interactive control the click is attributed to, if any
}

// ParentText returns the ancestor control's label when the click bubbled.
func (r Resolution) ParentText() string {
	if r.Control == nil || r.Text == r.OwnText {
		return ""
	}
	return r.Text
}

// InteractiveTargetResolver turns a node into a Resolution.
type InteractiveTargetResolver interface {
	Resolve(n *Node) Resolution
}

// Resolver is the default resolution policy.
type Resolver struct{}

func (Resolver) Resolve(n *Node) Resolution {
	if n == nil {
		return Resolution{}
	}

	res := Resolution{
		ElementID: identifier(n),
		OwnText:   ownText(n),
	}
	res.Text = res.OwnText

	control := n
	if !n.IsInteractive() {
		control = nearestInteractiveAncestor(n)
	}
	res.Control = control

	if control != nil && control != n {
		// icon-only controls have no text of their own; the ancestor's label
		// is the action the visitor meant
		if text := ownText(control); text != "" {
			res.Text = text
		}
		if res.ElementID == "" {
			res.ElementID = identifier(control)
		}
	}
	return res
}

// identifier is the first of id, analytics tag, accessibility label and class
// list of the node itself.
func identifier(n *Node) string {
	for _, candidate := range []string{n.ID, n.AnalyticsTag, n.AriaLabel, n.ClassName()} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate
		}
	}
	return ""
}

func ownText(n *Node) string {
	for _, candidate := range []string{n.Text, n.AriaLabel, n.Title} {
		if text := normalize(candidate); text != "" {
			return text
		}
	}
	return ""
}

func nearestInteractiveAncestor(n *Node) *Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.IsInteractive() {
			return p
		}
	}
	return nil
}

// normalize collapses whitespace and caps the length.
func normalize(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxTextLength {
		return s
	}
	return string([]rune(s)[:maxTextLength])
}
