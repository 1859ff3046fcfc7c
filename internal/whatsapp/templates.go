// internal/whatsapp/templates.go
package whatsapp

// DefaultCheckInName fills the check-in template when the user's name is unknown.
const DefaultCheckInName = "there"

type TemplateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type TemplateComponent struct {
	Type       string              `json:"type"`
	Parameters []TemplateParameter `json:"parameters"`
}

// BodyComponents builds a body component carrying one text parameter per value.
func BodyComponents(values []string) []TemplateComponent {
	if len(values) == 0 {
		return []TemplateComponent{}
	}
	params := make([]TemplateParameter, 0, len(values))
	for _, v := range values {
		params = append(params, TemplateParameter{Type: "text", Text: v})
	}
	return []TemplateComponent{{Type: "body", Parameters: params}}
}

// CheckInParams returns the check-in template parameters for name.
func CheckInParams(name string) []string {
	if name == "" {
		name = DefaultCheckInName
	}
	return []string{name}
}
