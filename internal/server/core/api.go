package core

import "time"

// Request types

type CreateGameRequest struct {
	Minutes    int    `json:"minutes" validate:"required,min=1,max=180"`
	Increment  int    `json:"increment" validate:"min=0,max=180"`
	RatingLow  int    `json:"ratingLow" validate:"min=0,max=4000"`
	RatingHigh int    `json:"ratingHigh" validate:"required,min=0,max=4000"`
	Mode       string `json:"mode" validate:"required,oneof=casual rated"`
	Seat       int    `json:"seat" validate:"min=0,max=3"`
	JoinRandom bool   `json:"joinRandom"`
}

type JoinSeatRequest struct {
	Seat int `json:"seat" validate:"min=0,max=3"`
}

type TerminationRequest struct {
	Termination string `json:"termination" validate:"required,min=1,max=200"`
}

// Response types

type SeatResponse struct {
	UserID string  `json:"userId"`
	Rating float64 `json:"rating"`
}

type GameResponse struct {
	GameID      string                  `json:"gameId"`
	Seats       [NumSeats]*SeatResponse `json:"seats"`
	Minutes     int                     `json:"minutes"`
	Increment   int                     `json:"increment"`
	RatingLow   int                     `json:"ratingLow"`
	RatingHigh  int                     `json:"ratingHigh"`
	Mode        GameMode                `json:"mode"`
	Status      GameStatus              `json:"status"`
	Termination string                  `json:"termination,omitempty"`
	JoinRandom  bool                    `json:"joinRandom"`
	CreatedAt   time.Time               `json:"createdAt"`
}

type CreateGameResponse struct {
	GameID string `json:"gameId"`
}

type JoinSeatResponse struct {
	Seated bool       `json:"seated"`
	Reason string     `json:"reason,omitempty"`
	Status GameStatus `json:"status,omitempty"`
}

type RatingHistoryEntry struct {
	Class     TimeClass `json:"class"`
	Timestamp time.Time `json:"timestamp"`
	Rating    float64   `json:"rating"`
}
