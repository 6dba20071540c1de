package coinscot_test

import (
	"fmt"
	"log"
	"strings"
	"testing"

	"github.com/fraqlab/coinscot"
	"github.com/fraqlab/coinscot/config"
	"github.com/slack-go/slack"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

type userInfoFinder struct {
	fail  bool
	loads int
}

func (u *userInfoFinder) GetUserInfo(userID string) (user *slack.User, err error) {
	u.loads++

	if u.fail {
		return nil, fmt.Errorf("Error loading user [%s]", userID)
	}

	return &slack.User{ID: userID, Name: "Daniel Quinn"}, nil
}

func newTestSLogger() coinscot.SLogger {
	var logBuilder strings.Builder
	return coinscot.NewSLogger(log.New(&logBuilder, "", 0), false)
}

func TestNewCachingUserInfoFinderWithInvalidSize(t *testing.T) {
	v := viper.New()
	v.Set(config.UserInfoCacheSizeKey, -1)

	loader := userInfoFinder{}

	_, err := coinscot.NewCachingUserInfoFinder(v, &loader, newTestSLogger())
	assert.NotNil(t, err)
}

func TestGetUserWithCacheDisabled(t *testing.T) {
	v := viper.New()
	v.Set(config.UserInfoCacheSizeKey, 0)

	loader := userInfoFinder{}

	uf, err := coinscot.NewCachingUserInfoFinder(v, &loader, newTestSLogger())
	if assert.Nil(t, err) {
		user, err := uf.GetUserInfo("little-blue")
		assert.Nil(t, err)

		if assert.NotNil(t, user) {
			assert.Equal(t, slack.User{ID: "little-blue", Name: "Daniel Quinn"}, *user)
		}
	}
}

func TestGetUserCachesLoads(t *testing.T) {
	v := viper.New()
	v.Set(config.UserInfoCacheSizeKey, 10)

	loader := userInfoFinder{}

	uf, err := coinscot.NewCachingUserInfoFinder(v, &loader, newTestSLogger())
	if assert.Nil(t, err) {
		_, err := uf.GetUserInfo("little-blue")
		assert.Nil(t, err)
		_, err = uf.GetUserInfo("little-blue")
		assert.Nil(t, err)

		assert.Equal(t, 1, loader.loads)
	}
}

func TestGetUserFailToLoad(t *testing.T) {
	v := viper.New()
	v.Set(config.UserInfoCacheSizeKey, 1)

	loader := userInfoFinder{fail: true}

	uf, err := coinscot.NewCachingUserInfoFinder(v, &loader, newTestSLogger())
	if assert.Nil(t, err) {
		_, err := uf.GetUserInfo("little-blue")
		assert.NotNil(t, err)
	}
}
