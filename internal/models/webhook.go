package models

type TrelloCardData struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type TrelloListData struct {
	Name string `json:"name"`
}

// TrelloWebhookPayload is the slice of Trello's action envelope the engine
// cares about. Deliveries carry far more fields; everything outside this
// shape is discarded at decode time.
type TrelloWebhookPayload struct {
	Action struct {
		Data struct {
			Card      TrelloCardData `json:"card"`
			List      TrelloListData `json:"list"`
			ListAfter TrelloListData `json:"listAfter"`
		} `json:"data"`
		Type string `json:"type"` // e.g., "updateCard"
	} `json:"action"`
}
