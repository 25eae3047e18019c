package target

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	saveButton := &Node{TagName: "button", ID: "save", Text: "  Save\n changes "}
	iconButton := &Node{TagName: "button", AriaLabel: "Delete product", Classes: []string{"btn", "btn-danger"}}
	icon := &Node{TagName: "svg", Classes: []string{"lucide", "lucide-trash"}, Parent: iconButton}
	span := &Node{TagName: "span", Text: "Checkout", Parent: &Node{TagName: "div", Parent: &Node{TagName: "a", Text: "Go to checkout", Href: "/checkout"}}}
	roleLink := &Node{TagName: "div", Role: "link", Title: "Open docs"}
	plain := &Node{TagName: "p", Text: "Some paragraph", Classes: []string{"lead"}}
	tagged := &Node{TagName: "button", AnalyticsTag: "cta-hero", Classes: []string{"hero"}, Text: "Start"}

	tests := []struct {
		name       string
		node       *Node
		wantID     string
		wantText   string
		wantParent string
	}{
		{"button own text", saveButton, "save", "Save changes", ""},
		{"button aria fallback", iconButton, "Delete product", "Delete product", ""},
		{"icon keeps its own classes as id", icon, "lucide lucide-trash", "Delete product", "Delete product"},
		{"ancestor text preferred over leaf", span, "", "Go to checkout", "Go to checkout"},
		{"role link title fallback", roleLink, "", "Open docs", ""},
		{"non interactive without control", plain, "lead", "Some paragraph", ""},
		{"analytics tag before classes", tagged, "cta-hero", "Start", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Resolver{}.Resolve(tt.node)
			if tt.wantID != "" {
				assert.Equal(t, tt.wantID, res.ElementID)
			}
			assert.Equal(t, tt.wantText, res.Text)
			assert.Equal(t, tt.wantParent, res.ParentText())
		})
	}
}

func TestResolve_IconInsideTextlessControlNeverEmpty(t *testing.T) {
	control := &Node{Role: "button", Title: "Close dialog"}
	icon := &Node{TagName: "i", Parent: &Node{TagName: "span", Parent: control}}

	res := Resolver{}.Resolve(icon)

	assert.Equal(t, "Close dialog", res.Text)
	assert.Same(t, control, res.Control)
}

func TestResolve_ClassFallbackUsesLeafFirst(t *testing.T) {
	control := &Node{TagName: "button", Classes: []string{"btn"}}
	icon := &Node{TagName: "svg", Classes: []string{"icon-x"}, Parent: control}

	assert.Equal(t, "icon-x", Resolver{}.Resolve(icon).ElementID)
}

func TestResolve_LeafClassesBeatAncestorID(t *testing.T) {
	control := &Node{TagName: "button", ID: "delete-btn", AriaLabel: "Delete"}
	icon := &Node{TagName: "svg", Classes: []string{"icon-trash"}, Parent: control}

	res := Resolver{}.Resolve(icon)

	assert.Equal(t, "icon-trash", res.ElementID)
	assert.Equal(t, "Delete", res.Text)
}

func TestResolve_BareLeafTakesControlIdentifier(t *testing.T) {
	control := &Node{TagName: "button", ID: "delete-btn"}
	icon := &Node{TagName: "svg", Parent: control}

	assert.Equal(t, "delete-btn", Resolver{}.Resolve(icon).ElementID)
}

func TestResolve_Nil(t *testing.T) {
	assert.Equal(t, Resolution{}, Resolver{}.Resolve(nil))
}

func TestNormalizeTruncates(t *testing.T) {
	long := strings.Repeat("é", 150)
	assert.Equal(t, maxTextLength, len([]rune(normalize(long))))
}

func TestIsInteractive(t *testing.T) {
	assert.True(t, (&Node{TagName: "A"}).IsInteractive())
	assert.True(t, (&Node{Role: "menuitem"}).IsInteractive())
	assert.True(t, (&Node{Interactive: true}).IsInteractive())
	assert.False(t, (&Node{TagName: "span"}).IsInteractive())
	assert.False(t, (*Node)(nil).IsInteractive())
}
