package synth

import "encoding/base64"

func decodeBase64PCM(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}
