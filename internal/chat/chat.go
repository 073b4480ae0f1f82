// Package chat defines the capability surface the core uses to talk to the
// chat platform. The gateway process owns the actual platform connection;
// everything here is an interface the core calls, never owns.
package chat

import "context"

// MessageRef is an opaque handle to a posted message, assigned by the gateway.
type MessageRef string

// User identifies the person behind an inbound command or interaction.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Mention renders the platform mention syntax for the user.
func (u User) Mention() string {
	return "<@" + u.ID + ">"
}

// ButtonStyle selects the visual treatment of a button.
type ButtonStyle string

const (
	ButtonPrimary   ButtonStyle = "primary"
	ButtonSecondary ButtonStyle = "secondary"
	ButtonSuccess   ButtonStyle = "success"
	ButtonDanger    ButtonStyle = "danger"
)

// Button is an interactive affordance attached to a message. ID comes back
// verbatim on the button-press interaction.
type Button struct {
	ID       string      `json:"id"`
	Label    string      `json:"label"`
	Emoji    string      `json:"emoji,omitempty"`
	Style    ButtonStyle `json:"style"`
	Disabled bool        `json:"disabled,omitempty"`
}

// EmbedField is one name/value pair inside an embed.
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Embed is a rich block attached to a message.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

// Attachment is a file attached to a message.
type Attachment struct {
	Name string `json:"name"`
	Body []byte `json:"body"`
}

// Message is the outbound message payload.
type Message struct {
	Content     string       `json:"content,omitempty"`
	Embeds      []Embed      `json:"embeds,omitempty"`
	Buttons     []Button     `json:"buttons,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Channel posts and edits messages in a single destination.
type Channel interface {
	Send(ctx context.Context, msg Message) (MessageRef, error)
	Edit(ctx context.Context, ref MessageRef, msg Message) error
}

// ComponentType discriminates modal form components.
type ComponentType string

const (
	ComponentTextDisplay   ComponentType = "TextDisplay"
	ComponentTextInput     ComponentType = "TextInput"
	ComponentDropdownInput ComponentType = "DropdownInput"
)

// SelectOption is one choice in a dropdown component.
type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// ModalComponent is one component of a modal form. Which fields are
// meaningful depends on Type.
type ModalComponent struct {
	Type ComponentType `json:"type"`

	// TextDisplay
	Content string `json:"content,omitempty"`

	// TextInput and DropdownInput
	ID    string `json:"id,omitempty"`
	Label string `json:"label,omitempty"`

	// TextInput
	Style       string `json:"style,omitempty"` // "Short" or "Paragraph"
	Placeholder string `json:"placeholder,omitempty"`
	Value       string `json:"value,omitempty"`
	MinLength   int    `json:"minLength,omitempty"`
	MaxLength   int    `json:"maxLength,omitempty"`
	Required    *bool  `json:"required,omitempty"`

	// DropdownInput
	MinValues *int           `json:"minValues,omitempty"`
	MaxValues *int           `json:"maxValues,omitempty"`
	Options   []SelectOption `json:"options,omitempty"`
}

// Modal is an interactive form the gateway renders for one user. ID comes
// back verbatim on the form-submit interaction.
type Modal struct {
	ID         string           `json:"id"`
	Title      string           `json:"title"`
	Components []ModalComponent `json:"components"`
}

// Response tells the gateway how to answer an interaction. At most one of
// Update and Modal is set; Ephemeral may accompany either or stand alone.
type Response struct {
	Ephemeral *Message `json:"ephemeral,omitempty"`
	Update    *Message `json:"update,omitempty"`
	Modal     *Modal   `json:"modal,omitempty"`
}

// Text wraps plain content as a message.
func Text(content string) *Message {
	return &Message{Content: content}
}

// RoleChecker answers whether a user holds the trusted contributor role.
// Role membership lives with the platform, not the core.
type RoleChecker interface {
	IsTrusted(ctx context.Context, userID string) (bool, error)
}

// Directory performs best-effort user lookup by display name.
type Directory interface {
	SearchUsers(ctx context.Context, query string) ([]User, error)
}
