package attendance

import (
	"math/rand"
	"strconv"
	"time"
)

// token bounds; a token's scope is its SessionKey so repeats across sessions are fine
const (
	tokenMin = 1000
	tokenMax = 9999
)

var nowFunc = time.Now // mockable

func init() {
	rand.Seed(time.Now().UnixNano())
}

// generateToken draws a 4-digit code uniformly from [tokenMin, tokenMax].
func generateToken() string {
	return strconv.Itoa(tokenMin + rand.Intn(tokenMax-tokenMin+1))
}
