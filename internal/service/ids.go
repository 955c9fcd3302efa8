package service

import (
	random "github.com/mazen160/go-random"
)

type randomIdAPI struct{}

func (randomIdAPI) GenerateId() (string, error) {
	return random.String(8)
}
