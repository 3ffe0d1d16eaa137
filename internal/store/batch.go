package store

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// Writer is the write surface handed to providers. Nothing written through it
// is visible until the owning Batch is applied.
type Writer interface {
	UpsertMeta(key, value string, payload any) error
	UpsertFloat(key string, v float64) error
	WriteResults(resultType string, mode model.WriteMode, records []any, input any) error
}

// MetaWrite is a buffered meta upsert.
type MetaWrite struct {
	Key     string
	Value   string
	Payload json.RawMessage
}

// ResultWrite is a buffered result write.
type ResultWrite struct {
	ResultType string
	Mode       model.WriteMode
	Records    []json.RawMessage
	Input      json.RawMessage
}

// Batch buffers one provider's writes for a single property so a stage is
// persisted all-or-nothing.
type Batch struct {
	PropertyID string
	Meta       []MetaWrite
	Results    []ResultWrite

	metaIndex map[string]int
}

var _ Writer = (*Batch)(nil)

// NewBatch creates an empty batch for propertyID.
func NewBatch(propertyID string) *Batch {
	return &Batch{PropertyID: propertyID, metaIndex: make(map[string]int)}
}

// UpsertMeta buffers a meta write. A later write of the same key replaces the
// earlier one.
func (b *Batch) UpsertMeta(key, value string, payload any) error {
	if key == "" {
		return eris.New("batch: meta key is required")
	}
	raw, err := marshalOptional(payload)
	if err != nil {
		return eris.Wrapf(err, "batch: marshal meta payload %s", key)
	}
	w := MetaWrite{Key: key, Value: value, Payload: raw}
	if b.metaIndex == nil {
		b.metaIndex = make(map[string]int)
	}
	if i, ok := b.metaIndex[key]; ok {
		b.Meta[i] = w
		return nil
	}
	b.metaIndex[key] = len(b.Meta)
	b.Meta = append(b.Meta, w)
	return nil
}

// UpsertFloat buffers a numeric meta write using the canonical formatting.
func (b *Batch) UpsertFloat(key string, v float64) error {
	return b.UpsertMeta(key, FormatFloat(v), nil)
}

// WriteResults buffers a result write. Each record is JSON-encoded on its own.
func (b *Batch) WriteResults(resultType string, mode model.WriteMode, records []any, input any) error {
	if resultType == "" {
		return eris.New("batch: result type is required")
	}
	if mode != model.WriteReplace && mode != model.WriteAppend {
		return eris.Errorf("batch: unknown write mode %q", mode)
	}
	w := ResultWrite{ResultType: resultType, Mode: mode}
	for i, rec := range records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "batch: marshal %s record %d", resultType, i)
		}
		w.Records = append(w.Records, raw)
	}
	raw, err := marshalOptional(input)
	if err != nil {
		return eris.Wrapf(err, "batch: marshal %s input", resultType)
	}
	w.Input = raw
	b.Results = append(b.Results, w)
	return nil
}

// ReplaceResults is WriteResults with WriteReplace.
func (b *Batch) ReplaceResults(resultType string, records []any, input any) error {
	return b.WriteResults(resultType, model.WriteReplace, records, input)
}

// AppendResult is WriteResults with WriteAppend for a single record.
func (b *Batch) AppendResult(resultType string, record any, input any) error {
	return b.WriteResults(resultType, model.WriteAppend, []any{record}, input)
}

// Empty reports whether nothing was buffered.
func (b *Batch) Empty() bool {
	return len(b.Meta) == 0 && len(b.Results) == 0
}

// MetaKeys lists buffered meta keys in write order.
func (b *Batch) MetaKeys() []string {
	keys := make([]string, len(b.Meta))
	for i, m := range b.Meta {
		keys[i] = m.Key
	}
	return keys
}

// FormatFloat renders v the same way on every run so re-executed stages
// persist byte-equal meta values.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func marshalOptional(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	return json.Marshal(v)
}
