package authentication

// KeyString keeps panelctl's credentials in the OS keyring.
import (
	"encoding/json"
	"errors"

	"github.com/zalando/go-keyring"
)

const (
	serviceName = "panelctl"
	tokenKey    = "panel_token"
	adminKey    = "admin_credentials"
)

type StoredToken struct {
	Token     string `json:"token"`
	Panel     string `json:"panel"`
	ExpiresAt int64  `json:"expires_at"`
}

type AdminCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func StoreToken(t *StoredToken) error {
	return set(tokenKey, t)
}

// GetToken returns nil, nil when no token is stored
func GetToken() (*StoredToken, error) {
	var t StoredToken
	ok, err := get(tokenKey, &t)
	if !ok {
		return nil, err
	}
	return &t, nil
}

func DeleteToken() error {
	return del(tokenKey)
}

func StoreAdmin(creds *AdminCredentials) error {
	return set(adminKey, creds)
}

// GetAdmin returns nil, nil when no credentials are stored
func GetAdmin() (*AdminCredentials, error) {
	var creds AdminCredentials
	ok, err := get(adminKey, &creds)
	if !ok {
		return nil, err
	}
	return &creds, nil
}

func DeleteAdmin() error {
	return del(adminKey)
}

func set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return keyring.Set(serviceName, key, string(data))
}

func get(key string, v any) (bool, error) {
	value, err := keyring.Get(serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, err
	}
	return true, nil
}

func del(key string) error {
	err := keyring.Delete(serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}
