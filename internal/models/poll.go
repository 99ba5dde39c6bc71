package models

import (
	"errors"
	"math"
	"strings"
	"time"
)

var (
	ErrEmptyQuestion  = errors.New("question is required")
	ErrEmptyOption    = errors.New("options must not be empty")
	ErrTooFewOptions  = errors.New("at least two options are required")
	ErrEmptyPollScope = errors.New("poll scope is required")
)

type Poll struct {
	ID        int64        `json:"id"`
	MeetingID int64        `json:"meetingId"`
	Question  string       `json:"question"`
	CreatedAt time.Time    `json:"createdAt"`
	IsActive  bool         `json:"isActive"`
	Options   []PollOption `json:"options"`
}

type PollOption struct {
	ID        int64  `json:"id"`
	PollID    int64  `json:"pollId"`
	Text      string `json:"text"`
	VoteCount int    `json:"voteCount"`
}

func (p *Poll) TotalVotes() int {
	total := 0
	for _, o := range p.Options {
		if o.VoteCount > 0 {
			total += o.VoteCount
		}
	}
	return total
}

// PollInput is a poll as typed by the user, before it reaches the server.
type PollInput struct {
	Question string
	Options  []string
}

func (in *PollInput) Validate() error {
	if strings.TrimSpace(in.Question) == "" {
		return ErrEmptyQuestion
	}
	if len(in.Options) < 2 {
		return ErrTooFewOptions
	}
	for _, o := range in.Options {
		if strings.TrimSpace(o) == "" {
			return ErrEmptyOption
		}
	}
	return nil
}

type OptionView struct {
	PollOption
	Percent int `json:"percent"`
}

type PollView struct {
	ID         int64        `json:"id"`
	Question   string       `json:"question"`
	CreatedAt  time.Time    `json:"createdAt"`
	IsActive   bool         `json:"isActive"`
	TotalVotes int          `json:"totalVotes"`
	Options    []OptionView `json:"options"`
}

// Percent is voteCount / max(1, total) * 100 rounded to the nearest integer.
func Percent(voteCount, total int) int {
	if total <= 0 || voteCount <= 0 {
		return 0
	}
	return int(math.Round(float64(voteCount) / float64(total) * 100))
}

func NewPollView(p Poll) PollView {
	total := p.TotalVotes()
	v := PollView{
		ID:         p.ID,
		Question:   p.Question,
		CreatedAt:  p.CreatedAt,
		IsActive:   p.IsActive,
		TotalVotes: total,
		Options:    make([]OptionView, len(p.Options)),
	}
	for i, o := range p.Options {
		v.Options[i] = OptionView{PollOption: o, Percent: Percent(o.VoteCount, total)}
	}
	return v
}
