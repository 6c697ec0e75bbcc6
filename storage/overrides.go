package storage

import (
	"encoding/json"
	"time"

	"github.com/samber/mo"
)

// overridesPayload is the wire form of ExceptionOverrides. Keys outside this
// struct are dropped on decode.
type overridesPayload struct {
	StartAt        *time.Time `json:"startAt,omitempty"`
	EndAt          *time.Time `json:"endAt,omitempty"`
	IsCancelled    *bool      `json:"isCancelled,omitempty"`
	Name           *string    `json:"name,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Location       *string    `json:"location,omitempty"`
	AllDay         *bool      `json:"allDay,omitempty"`
	IsPublic       *bool      `json:"isPublic,omitempty"`
	IsRegisterable *bool      `json:"isRegisterable,omitempty"`
}

func fromPtr[T any](p *T) mo.Option[T] {
	if p == nil {
		return mo.None[T]()
	}
	return mo.Some(*p)
}

func toPtr[T any](o mo.Option[T]) *T {
	v, ok := o.Get()
	if !ok {
		return nil
	}
	return &v
}

func (o ExceptionOverrides) MarshalJSON() ([]byte, error) {
	return json.Marshal(overridesPayload{
		StartAt:        toPtr(o.StartAt),
		EndAt:          toPtr(o.EndAt),
		IsCancelled:    toPtr(o.IsCancelled),
		Name:           toPtr(o.Name),
		Description:    toPtr(o.Description),
		Location:       toPtr(o.Location),
		AllDay:         toPtr(o.AllDay),
		IsPublic:       toPtr(o.IsPublic),
		IsRegisterable: toPtr(o.IsRegisterable),
	})
}

func (o *ExceptionOverrides) UnmarshalJSON(data []byte) error {
	var p overridesPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*o = ExceptionOverrides{
		StartAt:        fromPtr(p.StartAt),
		EndAt:          fromPtr(p.EndAt),
		IsCancelled:    fromPtr(p.IsCancelled),
		Name:           fromPtr(p.Name),
		Description:    fromPtr(p.Description),
		Location:       fromPtr(p.Location),
		AllDay:         fromPtr(p.AllDay),
		IsPublic:       fromPtr(p.IsPublic),
		IsRegisterable: fromPtr(p.IsRegisterable),
	}
	return nil
}

// ParseOverrides decodes an exception payload. Unknown keys such as
// organizationId or sequenceNumber are ignored.
func ParseOverrides(data []byte) (ExceptionOverrides, error) {
	var o ExceptionOverrides
	if len(data) == 0 {
		return o, nil
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return ExceptionOverrides{}, &Error{Type: ErrInvalidInput, Message: "malformed exception payload", Err: err}
	}
	return o, nil
}
