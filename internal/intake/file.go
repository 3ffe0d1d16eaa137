package intake

import (
	"bytes"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// LoadFile reads and validates a YAML intake document.
func LoadFile(path string) (model.Intake, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return model.Intake{}, eris.Wrapf(err, "intake: read %s", path)
	}
	in, err := Parse(data)
	if err != nil {
		return model.Intake{}, eris.Wrapf(err, "intake: %s", path)
	}
	return in, nil
}

// Parse decodes and validates an intake document. Unknown fields are
// rejected so typos do not silently drop facts.
func Parse(data []byte) (model.Intake, error) {
	var in model.Intake
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&in); err != nil {
		if err == io.EOF {
			return model.Intake{}, eris.New("intake: empty document")
		}
		return model.Intake{}, eris.Wrap(err, "intake: decode yaml")
	}
	if err := store.ValidateIntake(in); err != nil {
		return model.Intake{}, err
	}
	family, err := store.ResolveFamily(in)
	if err != nil {
		return model.Intake{}, err
	}
	in.Family = family
	return in, nil
}
