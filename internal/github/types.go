package github

import "time"

// Changeset is one merged pull request eligible for replay: its source
// identifier, when it was merged, and the commit the merge produced.
type Changeset struct {
	Number         int
	Title          string
	MergedAt       time.Time
	MergeCommitSHA string
}

// searchResponse is the relevant part of the issue search API JSON.
type searchResponse struct {
	TotalCount int          `json:"total_count"`
	Items      []searchItem `json:"items"`
}

// searchItem is one search hit; only the PR number is used.
type searchItem struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// pullResponse is the relevant part of the pull request API JSON.
type pullResponse struct {
	Number         int        `json:"number"`
	Title          string     `json:"title"`
	Merged         bool       `json:"merged"`
	MergedAt       *time.Time `json:"merged_at"`
	MergeCommitSHA string     `json:"merge_commit_sha"`
}
