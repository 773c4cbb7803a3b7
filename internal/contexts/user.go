package contexts

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ambitlabs/ambit/internal/ambient"
)

// UserKeyType selects the user identity stack.
const UserKeyType = "User"

// SecretsCategory is the extension category for tenant/user secrets.
const SecretsCategory = "secrets"

// UserContext identifies the user on whose behalf work runs.
type UserContext struct {
	ambient.Base

	// Username identifies the application or test user.
	Username string `json:"username,omitempty"`
}

// KeyType implements ambient.Context.
func (c *UserContext) KeyType() string { return UserKeyType }

// TypeTag implements ambient.Context.
func (c *UserContext) TypeTag() string { return "UserContext" }

// Fields implements ambient.Context.
func (c *UserContext) Fields() []ambient.Field {
	return []ambient.Field{
		{
			Name:  "username",
			IsSet: func() bool { return c.Username != "" },
			Inherit: func(parent ambient.Context) {
				if p, ok := parent.(*UserContext); ok {
					c.Username = p.Username
				}
			},
		},
	}
}

// CurrentUserOrNone returns the innermost active UserContext or nil.
func CurrentUserOrNone(env *ambient.Env) *UserContext {
	c := env.CurrentOrNone(UserKeyType)
	if c == nil {
		return nil
	}
	return c.(*UserContext)
}

// Decrypter decrypts one secret value. Implementations live outside this
// subsystem; the runtime only handles base64 transport encoding.
type Decrypter interface {
	Decrypt(ciphertext []byte) ([]byte, error)
}

// SecretsExtension carries encrypted user secrets as an auxiliary record on
// a context. Values are base64-encoded ciphertext keyed by secret name in
// UI format (lowercase, dash separated).
type SecretsExtension struct {
	ambient.ExtBase

	// Encrypted maps secret name to base64 ciphertext.
	Encrypted map[string]string `json:"encrypted,omitempty"`
}

// Category implements ambient.Extension.
func (x *SecretsExtension) Category() string { return SecretsCategory }

// TypeTag implements ambient.Extension.
func (x *SecretsExtension) TypeTag() string { return "SecretsExtension" }

// Decrypt returns the plaintext of the named secret, or "" with a nil
// error when the secret is not present. Names are normalized to UI format
// before lookup.
func (x *SecretsExtension) Decrypt(name string, d Decrypter) (string, error) {
	if len(x.Encrypted) == 0 {
		return "", nil
	}
	key := strings.ToLower(strings.ReplaceAll(name, "_", "-"))
	encoded, ok := x.Encrypted[key]
	if !ok {
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("secret %q is not valid base64: %w", key, err)
	}
	plaintext, err := d.Decrypt(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decrypt secret %q: %w", key, err)
	}
	return string(plaintext), nil
}

// RegisterSecretsDefault installs the process-wide default secrets
// extension built from settings values.
func RegisterSecretsDefault(encrypted map[string]string) {
	ambient.RegisterExtensionDefault(SecretsCategory, func() (ambient.Extension, error) {
		copied := make(map[string]string, len(encrypted))
		for k, v := range encrypted {
			copied[k] = v
		}
		return &SecretsExtension{Encrypted: copied}, nil
	})
}

func init() {
	ambient.RegisterContextType("UserContext", func() ambient.Context { return &UserContext{} })
	ambient.RegisterExtensionType("SecretsExtension", func() ambient.Extension { return &SecretsExtension{} })
}
