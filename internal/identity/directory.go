package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DirectoryClient looks up user records (and primary email) from the
// identity provider's user-directory API, used by the "sync primary
// email" side-step in spec.md §4.12. Ported from
// original_source/clerk.rs's ClerkClient.
type DirectoryClient struct {
	HTTP      *http.Client
	APIBase   string
	SecretKey string
}

// User mirrors original_source/clerk.rs's ClerkUser.
type User struct {
	PrimaryEmailAddressID string         `json:"primary_email_address_id"`
	EmailAddresses        []EmailAddress `json:"email_addresses"`
}

// EmailAddress mirrors original_source/clerk.rs's ClerkEmailAddress.
type EmailAddress struct {
	ID      string `json:"id"`
	Address string `json:"email_address"`
}

func NewDirectoryClient(httpClient *http.Client, apiBase, secretKey string) *DirectoryClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &DirectoryClient{
		HTTP:      httpClient,
		APIBase:   strings.TrimSuffix(apiBase, "/"),
		SecretKey: secretKey,
	}
}

// GetUser fetches a single user's directory record.
func (c *DirectoryClient) GetUser(ctx context.Context, userID string) (User, error) {
	url := fmt.Sprintf("%s/users/%s", c.APIBase, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return User{}, err
	}
	if c.SecretKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("call identity provider for user %s: %w", userID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return User{}, fmt.Errorf("identity provider get user failed with status %d: %s", resp.StatusCode, string(body))
	}

	var user User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return User{}, fmt.Errorf("decode user response: %w", err)
	}
	return user, nil
}

// GetPrimaryEmail resolves the primary email address for userID,
// returning "" if the user has none.
func (c *DirectoryClient) GetPrimaryEmail(ctx context.Context, userID string) (string, error) {
	user, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.PrimaryEmailAddressID == "" {
		return "", nil
	}
	for _, addr := range user.EmailAddresses {
		if addr.ID == user.PrimaryEmailAddressID {
			return addr.Address, nil
		}
	}
	return "", nil
}
