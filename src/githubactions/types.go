package githubactions

// idTokenResponse is the body returned by the Actions OIDC token endpoint.
type idTokenResponse struct {
	Value string `json:"value"`
}

// releasePayload is the subset of a release webhook payload relayci reads.
type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName         string `json:"tag_name"`
		TargetCommitish string `json:"target_commitish"`
		Draft           bool   `json:"draft"`
		Prerelease      bool   `json:"prerelease"`
	} `json:"release"`
}

// pullRequestPayload is the subset of a pull_request webhook payload relayci reads.
type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Head struct {
			SHA string `json:"sha"`
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

// pushPayload is the subset of a push webhook payload relayci reads.
type pushPayload struct {
	Ref     string `json:"ref"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`
}

// actionPayload reads only the top-level action field of any event payload.
type actionPayload struct {
	Action string `json:"action"`
}
