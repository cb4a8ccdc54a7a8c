package middleware

import (
	"errors"
	"testing"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupValidator(t *testing.T) {
	SetupValidator()

	v, ok := binding.Validator.Engine().(*validator.Validate)
	assert.True(t, ok)
	assert.NotNil(t, v)
}

func TestValidationDetails(t *testing.T) {
	type input struct {
		OperationType string `json:"operation_type" validate:"required"`
		EntityID      string `json:"entity_id" validate:"required_unless=OperationType create"`
		Page          int    `json:"page" validate:"min=1"`
		Target        string `json:"target" validate:"omitempty,url"`
	}

	v := validator.New()
	err := v.Struct(input{EntityID: "", Target: "not a url"})
	require.Error(t, err)

	details := ValidationDetails(err)
	messages := make(map[string]string, len(details))
	for _, d := range details {
		messages[d.Field] = d.Message
	}
	assert.Equal(t, map[string]string{
		"OperationType": "This field is required",
		"EntityID":      "This field is required",
		"Page":          "Must be at least 1",
		"Target":        "Invalid URL format",
	}, messages)

	assert.Nil(t, ValidationDetails(errors.New("boom")))
}
