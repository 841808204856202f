package smtp

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"github.com/nyacpp/mailnya/internal/cram"
)

// chooseAuthMethod parses the AUTH extension's parameter text (RFC 4954
// §3) as a whitespace-separated list of mechanism tokens and picks the
// first supported-and-allowed one in preference order CRAM-MD5, PLAIN,
// LOGIN - strongest authentication first.
func chooseAuthMethod(param string, allowed AuthMethod) authMethod {
	offered := map[string]bool{}
	for _, tok := range strings.Fields(param) {
		offered[strings.ToUpper(tok)] = true
	}

	if offered["CRAM-MD5"] && allowed&AuthCRAMMD5 != 0 {
		return authCRAMMD5
	}
	if offered["PLAIN"] && allowed&AuthPlain != 0 {
		return authPlain
	}
	if offered["LOGIN"] && allowed&AuthLogin != 0 {
		return authLogin
	}
	return authNone
}

// authPlainResponse builds the base64 SASL response for PLAIN: the
// three-field "\0username\0password" frame RFC 4616 describes.
func authPlainResponse(username, password string) string {
	raw := "\x00" + username + "\x00" + password
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

func authLoginUsername(username string) string {
	return base64.StdEncoding.EncodeToString([]byte(username))
}

func authLoginPassword(password string) string {
	return base64.StdEncoding.EncodeToString([]byte(password))
}

// authCRAMMD5Response decodes the server's base64 challenge, computes
// HMAC-MD5(password, challenge), and returns the base64 SASL response
// "username hex-digest" RFC 2195 §3 defines.
func authCRAMMD5Response(username, password, challengeB64 string) (string, error) {
	challenge, err := base64.StdEncoding.DecodeString(challengeB64)
	if err != nil {
		return "", err
	}
	digest := cram.Sum([]byte(password), challenge)
	raw := username + " " + hex.EncodeToString(digest[:])
	return base64.StdEncoding.EncodeToString([]byte(raw)), nil
}
