// Package catalog resolves a content URL and quality tier into the pair of
// streams the pipeline downloads.
//
// A Source lists the raw formats a site offers for a URL; the Resolver maps
// them through a strict validation step, picks the highest video at or below
// the requested tier plus the best audio, and asks the Source for direct
// stream URLs for that pair only. Two sources exist: YouTubeSource talks to
// YouTube through github.com/kkdai/youtube/v2, YTDLPSource shells out to
// yt-dlp for every site yt-dlp supports.
//
// Video heights are nominal: the digits of the quality label ("1080p60"), or
// the short side of the frame when no label exists, so widescreen and
// vertical encodes land in the tier they are published as. Audio that copies
// into mp4 outranks audio that does not.
//
// ExpandPlaylist turns a playlist URL into single-video URLs through sources
// that implement PlaylistSource.
//
// The resolver never retries, never caches, and never falls back to a lower
// tier than requested.
package catalog
