/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package config

import (
	"strings"
	"time"
)

// KeyPrefixedDataProvider resolves every key under a section of the underlying DataProvider,
// so "maxTokens" asked through the "rateLimit" provider reads "rateLimit.maxTokens".
// File, reader and env var setup go to the underlying provider as is.
type KeyPrefixedDataProvider struct {
	DataProvider
	keyPrefix string
}

var _ DataProvider = (*KeyPrefixedDataProvider)(nil)

// NewKeyPrefixedDataProvider creates a new KeyPrefixedDataProvider.
func NewKeyPrefixedDataProvider(delegate DataProvider, keyPrefix string) *KeyPrefixedDataProvider {
	return &KeyPrefixedDataProvider{DataProvider: delegate, keyPrefix: keyPrefix}
}

func (kp *KeyPrefixedDataProvider) key(key string) string {
	return strings.Trim(kp.keyPrefix+"."+key, ".")
}

func (kp *KeyPrefixedDataProvider) Set(key string, value interface{}) {
	kp.DataProvider.Set(kp.key(key), value)
}

func (kp *KeyPrefixedDataProvider) SetDefault(key string, value interface{}) {
	kp.DataProvider.SetDefault(kp.key(key), value)
}

func (kp *KeyPrefixedDataProvider) IsSet(key string) bool {
	return kp.DataProvider.IsSet(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) Get(key string) interface{} {
	return kp.DataProvider.Get(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetInt(key string) (int, error) {
	return kp.DataProvider.GetInt(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetFloat64(key string) (float64, error) {
	return kp.DataProvider.GetFloat64(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetString(key string) (string, error) {
	return kp.DataProvider.GetString(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetBool(key string) (bool, error) {
	return kp.DataProvider.GetBool(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetStringSlice(key string) ([]string, error) {
	return kp.DataProvider.GetStringSlice(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetStringFromSet(key string, set []string, ignoreCase bool) (string, error) {
	return kp.DataProvider.GetStringFromSet(kp.key(key), set, ignoreCase)
}

func (kp *KeyPrefixedDataProvider) GetDuration(key string) (time.Duration, error) {
	return kp.DataProvider.GetDuration(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) GetBytesCount(key string) (BytesCount, error) {
	return kp.DataProvider.GetBytesCount(kp.key(key))
}

func (kp *KeyPrefixedDataProvider) UnmarshalKey(key string, rawVal interface{}, opts ...DecoderConfigOption) error {
	return kp.DataProvider.UnmarshalKey(kp.key(key), rawVal, opts...)
}

// WrapKeyErr reports the error against the full key, e.g. "rateLimit.maxTokens: must be positive".
func (kp *KeyPrefixedDataProvider) WrapKeyErr(key string, err error) error {
	return kp.DataProvider.WrapKeyErr(kp.key(key), err)
}
