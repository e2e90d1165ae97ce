package model

// Credentials is the connection setting of one platform. PhoneNumberID is
// only used by WhatsApp, PageID only by Facebook.
type Credentials struct {
	Platform      Platform `yaml:"platform"`
	Enabled       bool     `yaml:"enabled"`
	BaseURL       string   `yaml:"base_url"`
	APIVersion    string   `yaml:"api_version"`
	AccessToken   string   `yaml:"access_token"`
	PhoneNumberID string   `yaml:"phone_number_id"`
	PageID        string   `yaml:"page_id"`
}
