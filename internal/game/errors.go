package game

import "errors"

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrUserNotFound            = errors.New("user not found")
	ErrSessionNotFound         = errors.New("session not found")
	ErrCardNotFound            = errors.New("card not found")
	ErrCardUnavailable         = errors.New("card unavailable")
	ErrCardGenerationExhausted = errors.New("card generation exhausted")
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrBelowMinimum            = errors.New("amount below minimum")
	ErrAlreadyJoined           = errors.New("already joined")
	ErrSessionFull             = errors.New("session is full")
	ErrGameNotWaiting          = errors.New("game is not waiting for players")
	ErrGameNotActive           = errors.New("game is not active")
	ErrNotEnoughPlayers        = errors.New("not enough players to start")
	ErrNotCreator              = errors.New("only the room creator can do that")
	ErrAllNumbersDrawn         = errors.New("all numbers drawn")
	ErrNotInGame               = errors.New("not in game")
	ErrNumberNotOnCard         = errors.New("number not on card")
	ErrNumberNotDrawn          = errors.New("number has not been drawn")
	ErrAlreadyMarked           = errors.New("already marked")
	ErrRoomCodeExhausted       = errors.New("could not allocate a unique room code")
)
