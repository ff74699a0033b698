package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/marketchat/internal/logger"
	"github.com/marketchat/internal/model"
	"gopkg.in/yaml.v3"
)

const defaultSeedPath = "config/seed.yaml"

// Каталог магазинов живёт в маркетплейсе; seed.yaml заполняет справочник
// для разработки и store=memory.
type seedShop struct {
	ID         string `yaml:"id"`
	SellerID   string `yaml:"seller_id"`
	Name       string `yaml:"name"`
	AudioCalls bool   `yaml:"audio_calls"`
	VideoCalls bool   `yaml:"video_calls"`
}

func (s seedShop) model() model.Shop {
	return model.Shop{ID: s.ID, SellerID: s.SellerID, Name: s.Name, AudioCallsEnabled: s.AudioCalls, VideoCallsEnabled: s.VideoCalls}
}

type seedUser struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

func (u seedUser) model() model.UserProfile { return model.UserProfile{ID: u.ID, Name: u.Name} }

type seedFile struct {
	Shops []seedShop `yaml:"shops"`
	Users []seedUser `yaml:"users"`
}

func seedPath() string {
	if p := os.Getenv("SEED_FILE"); p != "" {
		return p
	}
	return defaultSeedPath
}

func loadSeed(path string, st stores) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range f.Shops {
		if err := st.putShop(ctx, s); err != nil {
			return fmt.Errorf("shop %s: %w", s.ID, err)
		}
	}
	for _, u := range f.Users {
		if err := st.putUser(ctx, u); err != nil {
			return fmt.Errorf("user %s: %w", u.ID, err)
		}
	}
	logger.Infof("seed: %s shops=%d users=%d", path, len(f.Shops), len(f.Users))
	return nil
}
