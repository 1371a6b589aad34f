package pdu

import "encoding/base64"

func encodeSignature(sig []byte) string {
	return base64.RawStdEncoding.EncodeToString(sig)
}

func decodeSignature(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(s)
}
