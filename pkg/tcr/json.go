package tcr

import (
	"bytes"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ConvertJSONFileToConfig opens a file.json and converts to RedisSeasoning.
func ConvertJSONFileToConfig(fileNamePath string) (*RedisSeasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &RedisSeasoning{}
	var json = jsoniter.ConfigFastest
	err = json.Unmarshal(byteValue, config)

	return config, err
}

// ConvertYAMLFileToConfig opens a file.yml and converts to RedisSeasoning.
func ConvertYAMLFileToConfig(fileNamePath string) (*RedisSeasoning, error) {

	byteValue, err := os.ReadFile(fileNamePath)
	if err != nil {
		return nil, err
	}

	config := &RedisSeasoning{}
	err = yaml.Unmarshal(byteValue, config)

	return config, err
}

// ReadWrappedBodyFromJSONBytes simply reads the bytes as a WrappedBody.
func ReadWrappedBodyFromJSONBytes(data []byte) (*WrappedBody, error) {

	var json = jsoniter.ConfigFastest
	body := &WrappedBody{}
	err := json.Unmarshal(data, body)
	if err != nil {
		return nil, err
	}

	return body, nil
}

// CreatePayload creates a JSON marshal and optionally compresses and encrypts the bytes.
func CreatePayload(
	input interface{},
	compression *CompressionConfig,
	encryption *EncryptionConfig) ([]byte, error) {

	var json = jsoniter.ConfigFastest
	data, err := json.Marshal(&input)
	if err != nil {
		return nil, err
	}

	buffer := &bytes.Buffer{}
	if compression != nil && compression.Enabled {
		err := handleCompression(compression, data, buffer)
		if err != nil {
			return nil, err
		}

		// Update data - data is now compressed
		data = buffer.Bytes()
	}

	if encryption != nil && encryption.Enabled {
		err := handleEncryption(encryption, data, buffer)
		if err != nil {
			return nil, err
		}

		// Update data - data is now encrypted
		data = buffer.Bytes()
	}

	return data, nil
}

// CreateWrappedPayload wraps your data in a plaintext wrapper called WrappedBody and performs the selected modifications to data.
func CreateWrappedPayload(
	input interface{},
	letterID uuid.UUID,
	metadata string,
	compression *CompressionConfig,
	encryption *EncryptionConfig) ([]byte, error) {

	wrappedBody := &WrappedBody{
		LetterID:       letterID,
		LetterMetadata: metadata,
		Body:           &ModdedBody{},
	}

	var json = jsoniter.ConfigFastest
	innerData, err := json.Marshal(&input)
	if err != nil {
		return nil, err
	}

	buffer := &bytes.Buffer{}
	if compression != nil && compression.Enabled {
		err := handleCompression(compression, innerData, buffer)
		if err != nil {
			return nil, err
		}

		// Data is now compressed
		wrappedBody.Body.Compressed = true
		wrappedBody.Body.CType = compression.Type
		innerData = buffer.Bytes()
	}

	if encryption != nil && encryption.Enabled {
		err := handleEncryption(encryption, innerData, buffer)
		if err != nil {
			return nil, err
		}

		// Data is now encrypted
		wrappedBody.Body.Encrypted = true
		wrappedBody.Body.EType = encryption.Type
		innerData = buffer.Bytes()
	}

	wrappedBody.Body.UTCDateTime = JSONUtcTimestamp()
	wrappedBody.Body.Data = innerData

	data, err := json.Marshal(&wrappedBody)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// UnwrapPayload reads a WrappedBody off the wire and reverses the
// modifications recorded on it, yielding the original inner bytes.
func UnwrapPayload(
	data []byte,
	compression *CompressionConfig,
	encryption *EncryptionConfig) ([]byte, error) {

	wrappedBody, err := ReadWrappedBodyFromJSONBytes(data)
	if err != nil {
		return nil, err
	}

	if wrappedBody.Body == nil {
		return nil, errors.New("wrapped body is missing its payload")
	}

	buffer := bytes.NewBuffer(wrappedBody.Body.Data)

	if wrappedBody.Body.Encrypted {
		if encryption == nil || len(encryption.Hashkey) == 0 {
			return nil, errors.New("payload is encrypted but no hashkey is configured")
		}

		if err := handleDecryption(encryption, buffer); err != nil {
			return nil, err
		}
	}

	if wrappedBody.Body.Compressed {
		decompression := &CompressionConfig{Enabled: true, Type: wrappedBody.Body.CType}
		if err := handleDecompression(decompression, buffer); err != nil {
			return nil, err
		}
	}

	_ = compression // the sender's flags on the body are authoritative

	return buffer.Bytes(), nil
}

// ReadPayload unencrypts and uncompresses payloads in place.
func ReadPayload(buffer *bytes.Buffer, compression *CompressionConfig, encryption *EncryptionConfig) error {

	if encryption != nil && encryption.Enabled {
		if err := handleDecryption(encryption, buffer); err != nil {
			return err
		}
	}

	if compression != nil && compression.Enabled {
		if err := handleDecompression(compression, buffer); err != nil {
			return err
		}
	}

	return nil
}

func handleCompression(compression *CompressionConfig, data []byte, buffer *bytes.Buffer) error {

	buffer.Reset()

	switch compression.Type {
	case ZstdCompressionType:
		return CompressWithZstd(data, buffer)
	case GzipCompressionType:
		fallthrough
	default:
		return CompressWithGzip(data, buffer)
	}
}

func handleEncryption(encryption *EncryptionConfig, data []byte, buffer *bytes.Buffer) error {

	switch encryption.Type {
	case AesSymmetricType:
		fallthrough
	default:
		data, err := EncryptWithAes(data, encryption.Hashkey, defaultNonceSize)

		if err != nil {
			return err
		}

		*buffer = *bytes.NewBuffer(data)

		return nil
	}
}

func handleDecompression(compression *CompressionConfig, buffer *bytes.Buffer) error {

	switch compression.Type {
	case ZstdCompressionType:
		return DecompressWithZstd(buffer)
	case GzipCompressionType:
		fallthrough
	default:
		return DecompressWithGzip(buffer)
	}
}

func handleDecryption(encryption *EncryptionConfig, buffer *bytes.Buffer) error {

	switch encryption.Type {
	case AesSymmetricType:
		fallthrough
	default:
		data, err := DecryptWithAes(buffer.Bytes(), encryption.Hashkey, defaultNonceSize)

		if err != nil {
			return err
		}

		*buffer = *bytes.NewBuffer(data)

		return nil
	}
}

// JSONUtcTimestamp quickly creates a string RFC3339 format in UTC
func JSONUtcTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// JSONUtcTimestampFromTime quickly creates a string RFC3339 format in UTC
func JSONUtcTimestampFromTime(t time.Time) string {
	return t.Format(time.RFC3339)
}
