package document

// Entity is implemented by every value stored through a typed collection.
type Entity interface {
	GetID() ObjectID
	SetID(id ObjectID)
}

// AbstractEntity is the embeddable base of domain entities. It carries the
// identity and the two free-form namespaces the accessor can search.
type AbstractEntity struct {
	ID           ObjectID          `json:"id"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	CustomFields map[string]any    `json:"customFields,omitempty"`
}

// GetID returns the identity.
func (e *AbstractEntity) GetID() ObjectID { return e.ID }

// SetID sets the identity.
func (e *AbstractEntity) SetID(id ObjectID) { e.ID = id }

// Attribute returns the named attribute.
func (e *AbstractEntity) Attribute(name string) (string, bool) {
	v, ok := e.Attributes[name]
	return v, ok
}

// SetAttribute sets the named attribute, allocating the map on first use.
func (e *AbstractEntity) SetAttribute(name, value string) {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[name] = value
}

// SetCustomField sets a custom field, allocating the map on first use.
func (e *AbstractEntity) SetCustomField(name string, value any) {
	if e.CustomFields == nil {
		e.CustomFields = make(map[string]any)
	}
	e.CustomFields[name] = value
}
