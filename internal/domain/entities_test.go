package domain

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskIDHexRoundTrip(t *testing.T) {
	id := NewTaskID()
	assert.Regexp(t, `^[0-9a-f]{32}$`, id.Hex())

	parsed, err := ParseTaskID(id.Hex())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseTaskIDCanonicalForm(t *testing.T) {
	u := uuid.New()
	parsed, err := ParseTaskID(u.String())
	require.NoError(t, err)
	assert.Equal(t, TaskID(u), parsed)
}

func TestParseTaskIDRejectsGarbage(t *testing.T) {
	_, err := ParseTaskID("not-a-uuid")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTaskIDJSON(t *testing.T) {
	id := NewTaskID()
	b, err := json.Marshal(id)
	require.NoError(t, err)
	assert.Equal(t, `"`+id.Hex()+`"`, string(b))

	var decoded TaskID
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, id, decoded)

	// canonical form is accepted on input too
	require.NoError(t, json.Unmarshal([]byte(`"`+uuid.UUID(id).String()+`"`), &decoded))
	assert.Equal(t, id, decoded)

	assert.Error(t, json.Unmarshal([]byte(`"zz"`), &decoded))
}

func TestParseTaskStatus(t *testing.T) {
	for _, valid := range []string{"pending", "completed", "failed", "failed_final"} {
		st, err := ParseTaskStatus(valid)
		require.NoError(t, err)
		assert.Equal(t, TaskStatus(valid), st)
	}
	_, err := ParseTaskStatus("done")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestParseTextType(t *testing.T) {
	for _, valid := range []string{"chat_item", "summary", "article"} {
		typ, err := ParseTextType(valid)
		require.NoError(t, err)
		assert.Equal(t, TextType(valid), typ)
	}
	_, err := ParseTextType("poem")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTextTypeUnmarshalRejectsUnknown(t *testing.T) {
	var typ TextType
	assert.Error(t, json.Unmarshal([]byte(`"poem"`), &typ))
	require.NoError(t, json.Unmarshal([]byte(`"summary"`), &typ))
	assert.Equal(t, TextSummary, typ)
}

func TestTaskDTOValidate(t *testing.T) {
	assert.NoError(t, TaskDTO{OriginalText: "hi", Type: TextChatItem}.Validate())
	assert.ErrorIs(t, TaskDTO{OriginalText: "  ", Type: TextChatItem}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, TaskDTO{OriginalText: "hi", Type: "poem"}.Validate(), ErrInvalidArgument)
	assert.ErrorIs(t, TaskDTO{OriginalText: "hi"}.Validate(), ErrInvalidArgument)
}

func TestPatchStatus(t *testing.T) {
	patch := PatchStatus(StatusFailedFinal, "Invalid JSON")
	require.NotNil(t, patch.Status)
	assert.Equal(t, StatusFailedFinal, *patch.Status)
	require.NotNil(t, patch.Cause)
	assert.Equal(t, "Invalid JSON", *patch.Cause)
	assert.Nil(t, patch.OriginalText)
	assert.Nil(t, patch.WordCount)
}
