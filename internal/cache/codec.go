package cache

import (
	"encoding/json"

	"github.com/contentops/promoflow/pkg/api"
)

func encodeProgress(p *api.Progress) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeProgress(data string) (*api.Progress, error) {
	var p api.Progress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}
