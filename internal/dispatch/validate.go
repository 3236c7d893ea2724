package dispatch

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
)

// validate is shared across handlers, mirroring the single package-level
// validator.Validate the teacher's HTTP layer keeps in common/validation.go.
var validate = validator.New()

// decodeAndValidate unmarshals raw into dst and then runs struct tag
// validation over it. Either step failing means the frame is malformed and
// should be dropped by the caller.
func decodeAndValidate(raw []byte, dst interface{}) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}
