// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	xglog "github.com/ManuGH/unchained/internal/log"
)

// Channel is a live channel as listed by the upstream.
type Channel struct {
	ChannelID  int    `json:"channel_id"`
	TvgID      string `json:"tvg_id"`
	Name       string `json:"name"`
	LogoURL    string `json:"logo_url,omitempty"`
	HasArchive bool   `json:"has_archive"`
}

type channelWire struct {
	ChannelID  *int    `json:"channelId"`
	Name       *string `json:"name"`
	LogoURL    string  `json:"logoUrl"`
	HasArchive bool    `json:"hasArchive"`
	TvgID      string  `json:"tvgId"`
	EpgID      string  `json:"epgId"`
}

type channelList struct {
	Items []struct {
		Channel json.RawMessage `json:"channel"`
	} `json:"items"`
}

// Channels lists live channels. Items that fail to decode are skipped and
// logged rather than failing the whole list.
func (c *Client) Channels(ctx context.Context, accessToken string) ([]Channel, error) {
	var list channelList
	if err := c.do(ctx, call{
		op:     "television.channels",
		method: http.MethodGet,
		path:   "television/channels",
		query:  url.Values{"list": {"LIVE"}, "queryScope": {"LIVE"}},
		bearer: accessToken,
		out:    &list,
	}); err != nil {
		return nil, err
	}

	logger := xglog.WithContext(ctx, c.logger)
	out := make([]Channel, 0, len(list.Items))
	skipped := 0
	for _, item := range list.Items {
		var w channelWire
		if err := json.Unmarshal(item.Channel, &w); err != nil || w.ChannelID == nil || w.Name == nil {
			skipped++
			continue
		}
		ch := Channel{
			ChannelID:  *w.ChannelID,
			Name:       *w.Name,
			LogoURL:    w.LogoURL,
			HasArchive: w.HasArchive,
			TvgID:      w.TvgID,
		}
		if ch.TvgID == "" {
			ch.TvgID = w.EpgID
		}
		if ch.TvgID == "" {
			ch.TvgID = strconv.Itoa(ch.ChannelID)
		}
		out = append(out, ch)
	}
	if skipped > 0 {
		logger.Warn().
			Str(xglog.FieldEvent, "upstream.channel_parse_skipped").
			Int("skipped", skipped).
			Msg("skipped malformed channel items")
	}
	return out, nil
}
