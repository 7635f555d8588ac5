package postgres

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/appgallery-ingest/internal/catalog"
)

const infoColumns = `app_id, alliance_app_id, name, pkg_name, dev_id, developer_name,
	dev_en_name, supplier, kind_id, kind_name, tag_name,
	kind_type_id, kind_type_name, icon_url, brief_desc, description,
	privacy_url, ctype, detail_id, app_level, jocat_id, iap, hms,
	tariff_type, packing_type, order_app, denpend_gms, denpend_hms,
	force_update, img_tag, is_pay, is_disciplined, is_shelves,
	submit_type, delete_archive, charging, button_grey, app_gift,
	free_days, pay_install_type, listed_at, comment, created_at`

const metricColumns = `app_id, version, version_code, size_bytes, sha256, info_score,
	info_rate_count, download_count, price, release_date, new_features,
	upgrade_msg, target_sdk, minsdk, compile_sdk_version,
	min_hmos_api_level, api_release_type, created_at`

const ratingColumns = `app_id, average_rating,
	star_1_rating_count, star_2_rating_count, star_3_rating_count,
	star_4_rating_count, star_5_rating_count, my_star_rating,
	total_star_rating_count, only_star_count, full_average_rating,
	source_type, created_at`

var emptyComment = []byte(`{}`)

// infoValues lists the info row in infoColumns order.
func infoValues(i catalog.EntityInfo) []any {
	comment := []byte(i.Comment)
	if catalog.EmptyJSON(comment) {
		comment = emptyComment
	}
	return []any{
		i.AppID, i.AllianceAppID, i.Name, i.PkgName, i.DevID, i.DeveloperName,
		i.DevEnName, i.Supplier, i.KindID, i.KindName, i.TagName,
		i.KindTypeID, i.KindTypeName, i.IconURL, i.BriefDesc, i.Description,
		i.PrivacyURL, i.CType, i.DetailID, i.AppLevel, i.JocatID, i.IAP, i.HMS,
		i.TariffType, i.PackingType, i.OrderApp, i.DependGMS, i.DependHMS,
		i.ForceUpdate, i.ImgTag, i.IsPay, i.IsDisciplined, i.IsShelves,
		i.SubmitType, i.DeleteArchive, i.Charging, i.ButtonGrey, i.AppGift,
		i.FreeDays, i.PayInstallType, i.ListedAt, comment, i.CreatedAt,
	}
}

// infoTargets returns scan destinations in infoColumns order. The comment is
// scanned into raw and must be attached by the caller.
func infoTargets(i *catalog.EntityInfo, comment *[]byte) []any {
	return []any{
		&i.AppID, &i.AllianceAppID, &i.Name, &i.PkgName, &i.DevID, &i.DeveloperName,
		&i.DevEnName, &i.Supplier, &i.KindID, &i.KindName, &i.TagName,
		&i.KindTypeID, &i.KindTypeName, &i.IconURL, &i.BriefDesc, &i.Description,
		&i.PrivacyURL, &i.CType, &i.DetailID, &i.AppLevel, &i.JocatID, &i.IAP, &i.HMS,
		&i.TariffType, &i.PackingType, &i.OrderApp, &i.DependGMS, &i.DependHMS,
		&i.ForceUpdate, &i.ImgTag, &i.IsPay, &i.IsDisciplined, &i.IsShelves,
		&i.SubmitType, &i.DeleteArchive, &i.Charging, &i.ButtonGrey, &i.AppGift,
		&i.FreeDays, &i.PayInstallType, &i.ListedAt, comment, &i.CreatedAt,
	}
}

func metricValues(m catalog.EntityMetric) []any {
	return []any{
		m.AppID, m.Version, m.VersionCode, m.SizeBytes, m.SHA256, m.InfoScore,
		m.InfoRateCount, m.DownloadCount, m.Price, m.ReleaseDate, m.NewFeatures,
		m.UpgradeMsg, m.TargetSDK, m.MinSDK, m.CompileSDK,
		m.MinHMOSAPILevel, m.APIReleaseType, m.CreatedAt,
	}
}

func metricTargets(m *catalog.EntityMetric) []any {
	return []any{
		&m.AppID, &m.Version, &m.VersionCode, &m.SizeBytes, &m.SHA256, &m.InfoScore,
		&m.InfoRateCount, &m.DownloadCount, &m.Price, &m.ReleaseDate, &m.NewFeatures,
		&m.UpgradeMsg, &m.TargetSDK, &m.MinSDK, &m.CompileSDK,
		&m.MinHMOSAPILevel, &m.APIReleaseType, &m.CreatedAt,
	}
}

func ratingValues(r catalog.EntityRating) []any {
	return []any{
		r.AppID, r.AverageRating,
		r.Star1Count, r.Star2Count, r.Star3Count,
		r.Star4Count, r.Star5Count, r.MyStarRating,
		r.TotalStarRatingCount, r.OnlyStarCount, r.FullAverageRating,
		r.SourceType, r.CreatedAt,
	}
}

func ratingTargets(r *catalog.EntityRating) []any {
	return []any{
		&r.AppID, &r.AverageRating,
		&r.Star1Count, &r.Star2Count, &r.Star3Count,
		&r.Star4Count, &r.Star5Count, &r.MyStarRating,
		&r.TotalStarRatingCount, &r.OnlyStarCount, &r.FullAverageRating,
		&r.SourceType, &r.CreatedAt,
	}
}

func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}
