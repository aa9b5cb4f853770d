package pipeline

import (
	"encoding/json"
	"strings"

	"github.com/scoutline/leadharvest/internal/model"
)

// postItem is the shape discovery actors emit for one content item. Actors
// are inconsistent about which URL field they populate, so parsing falls
// back from url to postUrl to a shortCode-built canonical URL.
type postItem struct {
	ID            string `json:"id"`
	ShortCode     string `json:"shortCode"`
	URL           string `json:"url"`
	PostURL       string `json:"postUrl"`
	Caption       string `json:"caption"`
	LikesCount    int    `json:"likesCount"`
	CommentsCount int    `json:"commentsCount"`
}

type commentItem struct {
	ID            string `json:"id"`
	PostURL       string `json:"postUrl"`
	OwnerUsername string `json:"ownerUsername"`
	Text          string `json:"text"`
}

type profileItem struct {
	Username             string `json:"username"`
	FullName             string `json:"fullName"`
	Biography            string `json:"biography"`
	ExternalURL          string `json:"externalUrl"`
	FollowersCount       int    `json:"followersCount"`
	FollowsCount         int    `json:"followsCount"`
	PostsCount           int    `json:"postsCount"`
	Private              bool   `json:"private"`
	Verified             bool   `json:"verified"`
	BusinessCategoryName string `json:"businessCategoryName"`
}

// supportedPostURL reports whether the URL points at a content type the
// harvest actor can read comments from.
func supportedPostURL(url string) bool {
	for _, marker := range []string{"/p/", "/reel/", "/tv/"} {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return false
}

// parsePost extracts a post from a raw dataset item. Returns nil for items
// with no resolvable URL; discovery tolerates junk items rather than failing
// the run.
func parsePost(raw json.RawMessage, ownerID, seed, jobID string) *model.Post {
	var item postItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil
	}
	url := item.URL
	if url == "" {
		url = item.PostURL
	}
	if url == "" && item.ShortCode != "" {
		url = "https://www.instagram.com/p/" + item.ShortCode + "/"
	}
	if url == "" {
		return nil
	}
	externalID := item.ID
	if externalID == "" {
		externalID = item.ShortCode
	}
	if externalID == "" {
		externalID = url
	}
	return &model.Post{
		ExternalID:   externalID,
		OwnerID:      ownerID,
		URL:          url,
		Seed:         seed,
		JobID:        jobID,
		Caption:      item.Caption,
		LikeCount:    item.LikesCount,
		CommentCount: item.CommentsCount,
	}
}

// parseComment extracts a comment from a raw dataset item. Items without a
// contributor username carry no signal and are dropped.
func parseComment(raw json.RawMessage, ownerID, postURL, jobID string) *model.Comment {
	var item commentItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil
	}
	if item.OwnerUsername == "" {
		return nil
	}
	if item.PostURL == "" {
		item.PostURL = postURL
	}
	externalID := item.ID
	if externalID == "" {
		externalID = item.PostURL + "#" + item.OwnerUsername
	}
	return &model.Comment{
		ExternalID: externalID,
		PostURL:    item.PostURL,
		OwnerID:    ownerID,
		Username:   item.OwnerUsername,
		Body:       item.Text,
		JobID:      jobID,
	}
}

// parseProfile extracts a profile from a raw dataset item.
func parseProfile(raw json.RawMessage) *model.Profile {
	var item profileItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil
	}
	if item.Username == "" {
		return nil
	}
	return &model.Profile{
		Username:       item.Username,
		FullName:       item.FullName,
		Biography:      item.Biography,
		ExternalURL:    item.ExternalURL,
		FollowerCount:  item.FollowersCount,
		FollowingCount: item.FollowsCount,
		MediaCount:     item.PostsCount,
		IsPrivate:      item.Private,
		IsVerified:     item.Verified,
		Category:       item.BusinessCategoryName,
	}
}
