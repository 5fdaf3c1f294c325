package domain

// DraftEntity is the in-progress character being co-created. The engine
// treats it as an opaque snapshot: mutations arrive wholesale from the
// backend and every accepted mutation pushes a full copy onto the
// session's draft history.
type DraftEntity struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Scenes      []Scene           `json:"scenes,omitempty"`
	Media       []MediaRef        `json:"media,omitempty"`
	Bindings    map[string]string `json:"bindings,omitempty"`
}

// Scene is one scenario attached to a draft.
type Scene struct {
	Title  string `json:"title,omitempty"`
	Prompt string `json:"prompt,omitempty"`
}

// MediaRef points at a generated or attached asset by opaque id.
type MediaRef struct {
	ImageID string `json:"image_id"`
	Kind    string `json:"kind,omitempty"` // e.g. "avatar", "scene"
}

// AvatarImageID returns the image id of the draft's avatar media, or "".
func (d DraftEntity) AvatarImageID() string {
	for _, m := range d.Media {
		if m.Kind == "avatar" {
			return m.ImageID
		}
	}
	return ""
}

// Clone returns a deep copy of the draft.
func (d DraftEntity) Clone() DraftEntity {
	out := d
	out.Scenes = append([]Scene(nil), d.Scenes...)
	out.Media = append([]MediaRef(nil), d.Media...)
	if d.Bindings != nil {
		out.Bindings = make(map[string]string, len(d.Bindings))
		for k, v := range d.Bindings {
			out.Bindings[k] = v
		}
	}
	return out
}

// IsZero reports whether the draft carries no content yet.
func (d DraftEntity) IsZero() bool {
	return d.Name == "" && d.Description == "" &&
		len(d.Scenes) == 0 && len(d.Media) == 0 && len(d.Bindings) == 0
}
