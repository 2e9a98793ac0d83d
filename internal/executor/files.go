package executor

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// FileList carries the files of an execution request. On the wire it is a
// JSON object of path -> content; decoding keeps the keys in the order they
// appear so staging preserves insertion order.
type FileList []StagedFile

// UnmarshalJSON decodes the path -> content object token by token, which is
// the only way encoding/json exposes key order.
func (f *FileList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("files: expected object, got %v", tok)
	}

	var files FileList
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		path, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("files: expected string key, got %v", keyTok)
		}
		var content string
		if err := dec.Decode(&content); err != nil {
			return fmt.Errorf("files: content for %q must be a string: %w", path, err)
		}
		files = append(files, StagedFile{Path: path, Content: content})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*f = files
	return nil
}

// MarshalJSON encodes back to a path -> content object in list order.
func (f FileList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, file := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(file.Path)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(file.Content)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
