package models

// Outcome is the closed set of terminal statuses recorded per media
// candidate. The skipped_* values carry the filter that vetoed the
// candidate; the converted/detected values distinguish stream remux
// results from streams found without a transcoder available.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeDownloaded       Outcome = "downloaded"
	OutcomeConvertedHLS     Outcome = "converted_hls"
	OutcomeConvertedDASH    Outcome = "converted_dash"
	OutcomeHLSDetected      Outcome = "hls_detected"
	OutcomeDASHDetected     Outcome = "dash_detected"
	OutcomeConversionFailed Outcome = "conversion_failed"
	OutcomeFailed           Outcome = "failed"
	OutcomeRobotsBlocked    Outcome = "robots_blocked"

	SkipSVGExtension       Outcome = "skipped_svg_extension"
	SkipSVGContentType     Outcome = "skipped_svg_content_type"
	SkipThumbnailURL       Outcome = "skipped_thumbnail_url_pattern"
	SkipThumbFilename      Outcome = "skipped_thumb_filename"
	SkipThumbPath          Outcome = "skipped_thumb_path"
	SkipSquareThumbnail    Outcome = "skipped_square_thumbnail_filename"
	SkipUIAssetIconPath    Outcome = "skipped_ui_asset_icon_path"
	SkipUIAssetLogoPath    Outcome = "skipped_ui_asset_logo_path"
	SkipUIAssetFavicon     Outcome = "skipped_ui_asset_favicon"
	SkipUIAssetSprite      Outcome = "skipped_ui_asset_sprite"
	SkipUIAssetKeyword     Outcome = "skipped_ui_asset_keyword_filename"
	SkipSmallContentLength Outcome = "skipped_small_content_length"
	SkipSmallActual        Outcome = "skipped_small_actual"
	SkipInvalidImage       Outcome = "invalid_image"
	SkipPerceptualDup      Outcome = "perceptual_duplicate"
)

// String implements fmt.Stringer for logging.
func (o Outcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// IsSkip reports whether the outcome is a filter veto rather than a
// download result.
func (o Outcome) IsSkip() bool {
	switch o {
	case SkipSVGExtension, SkipSVGContentType, SkipThumbnailURL, SkipThumbFilename,
		SkipThumbPath, SkipSquareThumbnail, SkipUIAssetIconPath, SkipUIAssetLogoPath,
		SkipUIAssetFavicon, SkipUIAssetSprite, SkipUIAssetKeyword,
		SkipSmallContentLength, SkipSmallActual, SkipInvalidImage, SkipPerceptualDup:
		return true
	}
	return false
}
