package methods

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFields_SetKeepsOrder(t *testing.T) {
	var fields Fields
	fields.Set("b", 1)
	fields.Set("a", 2)
	fields.Set("b", 3)

	assert.Equal(t, []string{"b", "a"}, fields.Keys())

	value, ok := fields.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, value)

	_, ok = fields.Get("missing")
	assert.False(t, ok)
}

func TestFields_MarshalJSON(t *testing.T) {
	fields := Fields{
		{Key: "zeta", Value: "<b>"},
		{Key: "alpha", Value: []int{1, 2}},
		{Key: "nested", Value: Fields{{Key: "y", Value: true}, {Key: "x", Value: nil}}},
	}

	data, err := EncodeJSON(fields)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"<b>","alpha":[1,2],"nested":{"y":true,"x":null}}`, string(data))
}

func TestRequest_SetMovesFilesToUploads(t *testing.T) {
	req := NewRequest("sendDocument")
	req.Set("chat_id", int64(42))
	req.Set("document", FileFromBytes("report.txt", []byte("hello")))

	assert.True(t, req.HasFiles())
	assert.Equal(t, []string{"chat_id"}, req.Data.Keys())
	require.Contains(t, req.Files, "document")
	assert.Equal(t, "report.txt", req.Files["document"].Filename())
}

func TestGetUpdates_BuildRequest(t *testing.T) {
	req, err := GetUpdates{Offset: Ptr(int64(10)), Timeout: Ptr(30)}.BuildRequest()
	require.NoError(t, err)

	assert.Equal(t, "getUpdates", req.Method)
	assert.Equal(t, []string{"offset", "limit", "timeout"}, req.Data.Keys())
	assert.Equal(t, 40*time.Second, req.Timeout)

	_, err = GetUpdates{Limit: Ptr(0)}.BuildRequest()
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = GetUpdates{Timeout: Ptr(-1)}.BuildRequest()
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

type groupID int64

func TestSendMessage_BuildRequest(t *testing.T) {
	testCases := []struct {
		name    string
		method  SendMessage
		wantErr bool
	}{
		{"numeric chat", SendMessage{ChatID: int64(1), Text: "hi"}, false},
		{"channel username", SendMessage{ChatID: "@channel", Text: "hi"}, false},
		{"zero chat", SendMessage{ChatID: int64(0), Text: "hi"}, true},
		{"missing chat", SendMessage{Text: "hi"}, true},
		{"float chat", SendMessage{ChatID: 1.5, Text: "hi"}, true},
		{"int32 chat", SendMessage{ChatID: int32(5), Text: "hi"}, false},
		{"uint chat", SendMessage{ChatID: uint(5), Text: "hi"}, false},
		{"named integer chat", SendMessage{ChatID: groupID(-100), Text: "hi"}, false},
		{"zero uint chat", SendMessage{ChatID: uint64(0), Text: "hi"}, true},
		{"blank username", SendMessage{ChatID: "  ", Text: "hi"}, true},
		{"empty text", SendMessage{ChatID: 1, Text: ""}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := tc.method.BuildRequest()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "sendMessage", req.Method)
			text, _ := req.Data.Get("text")
			assert.Equal(t, "hi", text)
		})
	}
}

func TestSendDocument_BuildRequest(t *testing.T) {
	req, err := SendDocument{ChatID: int64(7), Document: "file-id"}.BuildRequest()
	require.NoError(t, err)
	assert.False(t, req.HasFiles())

	req, err = SendDocument{ChatID: int64(7), Document: FileFromBytes("a.txt", nil)}.BuildRequest()
	require.NoError(t, err)
	assert.True(t, req.HasFiles())

	_, err = SendDocument{ChatID: int64(7), Document: 12}.BuildRequest()
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestGetFile_BuildRequest(t *testing.T) {
	_, err := GetFile{}.BuildRequest()
	assert.ErrorIs(t, err, ErrInvalidParameter)

	req, err := GetFile{FileID: "abc"}.BuildRequest()
	require.NoError(t, err)
	value, _ := req.Data.Get("file_id")
	assert.Equal(t, "abc", value)
}

func TestPathFile_Open(t *testing.T) {
	path := filepath.Join(t.TempDir(), "upload.bin")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0644))

	file := FileFromPath(path)
	assert.Equal(t, "upload.bin", file.Filename())

	rc, err := file.Open()
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = FileFromPath(filepath.Join(t.TempDir(), "missing")).Open()
	assert.Error(t, err)
}
