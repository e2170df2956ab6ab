package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MaxObjectIDLength 오브젝트 ID 최대 길이 (DB 컬럼 크기와 같다)
const MaxObjectIDLength = 128

// Kind 화이트보드 오브젝트 종류
type Kind string

const (
	KindPath  Kind = "path"
	KindShape Kind = "shape"
	KindText  Kind = "text"
	KindGroup Kind = "group"
)

// Valid reports whether k is one of the supported object kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindPath, KindShape, KindText, KindGroup:
		return true
	}
	return false
}

// Object 화이트보드 오브젝트
//
// geometry/style 필드는 해석하지 않고 원본 JSON 그대로 보관한다.
// upsert는 항상 전체 값을 교체한다.
type Object struct {
	ID   string
	Kind Kind
	Raw  json.RawMessage
}

type objectHeader struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// NewObject builds an object from its id, kind and extra fields.
func NewObject(id string, kind Kind, fields map[string]any) (Object, error) {
	m := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		m[k] = v
	}
	m["id"] = id
	m["kind"] = kind
	raw, err := json.Marshal(m)
	if err != nil {
		return Object{}, err
	}
	o := Object{ID: id, Kind: kind, Raw: raw}
	return o, o.validate()
}

// UnmarshalJSON keeps the full value and extracts id and kind.
func (o *Object) UnmarshalJSON(data []byte) error {
	var h objectHeader
	if err := json.Unmarshal(data, &h); err != nil {
		return err
	}
	o.ID = h.ID
	o.Kind = h.Kind
	o.Raw = append(json.RawMessage(nil), bytes.TrimSpace(data)...)
	return nil
}

// MarshalJSON writes the stored value verbatim.
func (o Object) MarshalJSON() ([]byte, error) {
	if len(o.Raw) == 0 {
		return json.Marshal(objectHeader{ID: o.ID, Kind: o.Kind})
	}
	return o.Raw, nil
}

func validObjectID(id string) error {
	if id == "" {
		return errors.New("object id is empty")
	}
	if len(id) > MaxObjectIDLength {
		return fmt.Errorf("object id longer than %d bytes", MaxObjectIDLength)
	}
	return nil
}

func (o *Object) validate() error {
	if err := validObjectID(o.ID); err != nil {
		return err
	}
	if !o.Kind.Valid() {
		return fmt.Errorf("unknown object kind %q", o.Kind)
	}
	return nil
}
