package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.trello.com"

// ErrInvalidCredential means Trello rejected the token during identity
// verification. Nothing derived from such a token may be persisted.
var ErrInvalidCredential = errors.New("trello rejected the credential")

type Board struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TrelloClient struct {
	Client  *http.Client
	APIKey  string
	AppName string
	BaseURL string
}

func NewTrelloClient(key, appName, baseURL string) *TrelloClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &TrelloClient{
		Client:  &http.Client{Timeout: 10 * time.Second},
		APIKey:  key,
		AppName: appName,
		BaseURL: baseURL,
	}
}

// AuthorizeURL builds the consent URL for Trello's token flow. Trello
// returns the token in the URL fragment, so returnURL must point at the
// callback endpoint that serves the fragment-bounce page.
func (tc *TrelloClient) AuthorizeURL(returnURL string) string {
	q := url.Values{}
	q.Set("key", tc.APIKey)
	q.Set("name", tc.AppName)
	q.Set("expiration", "never")
	q.Set("response_type", "token")
	q.Set("scope", "read,write")
	q.Set("callback_method", "fragment")
	q.Set("return_url", returnURL)

	return tc.BaseURL + "/1/authorize?" + q.Encode()
}

// VerifyToken confirms a freshly received token is live and returns the
// member ID it belongs to.
func (tc *TrelloClient) VerifyToken(ctx context.Context, token string) (string, error) {
	q := url.Values{}
	q.Set("key", tc.APIKey)
	q.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tc.BaseURL+"/1/members/me?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create verify request: %v", err)
	}

	resp, err := tc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send verify request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusBadRequest {
		return "", ErrInvalidCredential
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var member struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		return "", fmt.Errorf("failed to decode Trello response: %v", err)
	}
	if member.ID == "" {
		return "", ErrInvalidCredential
	}

	return member.ID, nil
}

// ListBoards returns the boards visible to the connected member.
func (tc *TrelloClient) ListBoards(ctx context.Context, token, memberID string) ([]Board, error) {
	q := url.Values{}
	q.Set("key", tc.APIKey)
	q.Set("token", token)
	q.Set("fields", "name")

	apiURL := fmt.Sprintf("%s/1/members/%s/boards?%s", tc.BaseURL, memberID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create boards request: %v", err)
	}

	resp, err := tc.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send boards request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var boards []Board
	if err := json.NewDecoder(resp.Body).Decode(&boards); err != nil {
		return nil, fmt.Errorf("failed to decode Trello response: %v", err)
	}

	return boards, nil
}

func (tc *TrelloClient) RegisterWebhook(ctx context.Context, token, boardID, callbackURL string) (string, error) {
	apiURL := tc.BaseURL + "/1/webhooks/"

	formData := url.Values{}
	formData.Set("key", tc.APIKey)
	formData.Set("token", token)
	formData.Set("callbackURL", callbackURL)
	formData.Set("idModel", boardID)
	formData.Set("description", "Webhook for board sync")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create post request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send post request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var webhook struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&webhook); err != nil {
		return "", fmt.Errorf("failed to decode Trello response: %v", err)
	}

	zap.L().Info("Registered Trello webhook", zap.String("webhookID", webhook.ID), zap.String("boardID", boardID))

	return webhook.ID, nil
}

func (tc *TrelloClient) DeleteWebhook(ctx context.Context, token, webhookID string) error {
	apiURL := fmt.Sprintf("%s/1/webhooks/%s", tc.BaseURL, webhookID)

	formData := url.Values{}
	formData.Set("key", tc.APIKey)
	formData.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, apiURL, bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create delete request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send delete request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	zap.L().Info("Deleted Trello webhook", zap.String("webhookID", webhookID))

	return nil
}

// CreateCard creates a card on the first list of the given board and
// returns the new card's ID.
func (tc *TrelloClient) CreateCard(ctx context.Context, token, boardID, title, description string) (string, error) {
	listID, err := tc.firstListID(ctx, token, boardID)
	if err != nil {
		return "", err
	}

	formData := url.Values{}
	formData.Set("key", tc.APIKey)
	formData.Set("token", token)
	formData.Set("idList", listID)
	formData.Set("name", title)
	formData.Set("desc", description)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tc.BaseURL+"/1/cards", bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create post request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send post request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var card struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return "", fmt.Errorf("failed to decode Trello response: %v", err)
	}

	return card.ID, nil
}

// UpdateCard overwrites a card's description.
func (tc *TrelloClient) UpdateCard(ctx context.Context, token, cardID, description string) error {
	formData := url.Values{}
	formData.Set("key", tc.APIKey)
	formData.Set("token", token)
	formData.Set("desc", description)

	apiURL := fmt.Sprintf("%s/1/cards/%s", tc.BaseURL, cardID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, apiURL, bytes.NewBufferString(formData.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create put request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := tc.Client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send put request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	return nil
}

func (tc *TrelloClient) firstListID(ctx context.Context, token, boardID string) (string, error) {
	q := url.Values{}
	q.Set("key", tc.APIKey)
	q.Set("token", token)
	q.Set("fields", "name")

	apiURL := fmt.Sprintf("%s/1/boards/%s/lists?%s", tc.BaseURL, boardID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create lists request: %v", err)
	}

	resp, err := tc.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send lists request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("trello API returned non-200 status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var lists []struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lists); err != nil {
		return "", fmt.Errorf("failed to decode Trello response: %v", err)
	}
	if len(lists) == 0 {
		return "", fmt.Errorf("board %s has no lists to place a card on", boardID)
	}

	return lists[0].ID, nil
}
