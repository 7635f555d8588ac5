package catalog

import (
	"encoding/json"
	"reflect"
	"time"
)

// EntityInfo is the slowly-changing descriptive projection, one row per entity.
type EntityInfo struct {
	AppID          string          `json:"app_id"`
	AllianceAppID  string          `json:"alliance_app_id"`
	Name           string          `json:"name"`
	PkgName        string          `json:"pkg_name"`
	DevID          string          `json:"dev_id"`
	DeveloperName  string          `json:"developer_name"`
	DevEnName      string          `json:"dev_en_name"`
	Supplier       string          `json:"supplier"`
	KindID         int64           `json:"kind_id"`
	KindName       string          `json:"kind_name"`
	TagName        *string         `json:"tag_name"`
	KindTypeID     int64           `json:"kind_type_id"`
	KindTypeName   string          `json:"kind_type_name"`
	IconURL        string          `json:"icon_url"`
	BriefDesc      string          `json:"brief_desc"`
	Description    string          `json:"description"`
	PrivacyURL     string          `json:"privacy_url"`
	CType          int64           `json:"ctype"`
	DetailID       string          `json:"detail_id"`
	AppLevel       int64           `json:"app_level"`
	JocatID        int64           `json:"jocat_id"`
	IAP            bool            `json:"iap"`
	HMS            bool            `json:"hms"`
	TariffType     string          `json:"tariff_type"`
	PackingType    int64           `json:"packing_type"`
	OrderApp       bool            `json:"order_app"`
	DependGMS      bool            `json:"denpend_gms"`
	DependHMS      bool            `json:"denpend_hms"`
	ForceUpdate    bool            `json:"force_update"`
	ImgTag         string          `json:"img_tag"`
	IsPay          bool            `json:"is_pay"`
	IsDisciplined  bool            `json:"is_disciplined"`
	IsShelves      bool            `json:"is_shelves"`
	SubmitType     int64           `json:"submit_type"`
	DeleteArchive  bool            `json:"delete_archive"`
	Charging       bool            `json:"charging"`
	ButtonGrey     bool            `json:"button_grey"`
	AppGift        bool            `json:"app_gift"`
	FreeDays       int64           `json:"free_days"`
	PayInstallType int64           `json:"pay_install_type"`
	ListedAt       *time.Time      `json:"listed_at,omitempty"`
	Comment        json.RawMessage `json:"comment,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Info projects the descriptive fields. CreatedAt is left for the store to set.
func (d *RawDocument) Info() EntityInfo {
	var tag *string
	if d.TagName != nil {
		t := sanitize(*d.TagName)
		tag = &t
	}
	return EntityInfo{
		AppID:          sanitize(d.AppID),
		AllianceAppID:  sanitize(d.AllianceAppID.String()),
		Name:           sanitize(d.Name),
		PkgName:        sanitize(d.PkgName),
		DevID:          sanitize(d.DevID.String()),
		DeveloperName:  sanitize(d.DeveloperName),
		DevEnName:      sanitize(d.DevEnName),
		Supplier:       sanitize(d.Supplier),
		KindID:         d.KindID.int64(),
		KindName:       sanitize(d.KindName),
		TagName:        tag,
		KindTypeID:     d.KindTypeID.int64(),
		KindTypeName:   sanitize(d.KindTypeName),
		IconURL:        sanitize(d.Icon),
		BriefDesc:      sanitize(d.BriefDes),
		Description:    sanitize(d.Description),
		PrivacyURL:     sanitize(d.PrivacyURL),
		CType:          int64(d.CType),
		DetailID:       sanitize(d.DetailID.String()),
		AppLevel:       int64(d.AppLevel),
		JocatID:        int64(d.JocatID),
		IAP:            d.IAP != 0,
		HMS:            d.HMS != 0,
		TariffType:     sanitize(d.TariffType.String()),
		PackingType:    int64(d.PackingType),
		OrderApp:       d.OrderApp != 0,
		DependGMS:      d.DependGMS != 0,
		DependHMS:      d.DependHMS != 0,
		ForceUpdate:    d.ForceUpdate != 0,
		ImgTag:         sanitize(d.ImgTag.String()),
		IsPay:          d.IsPay.String() == "1",
		IsDisciplined:  d.IsDisciplined != 0,
		IsShelves:      d.IsShelves != 0,
		SubmitType:     int64(d.SubmitType),
		DeleteArchive:  d.DeleteArchive != 0,
		Charging:       d.Charging != 0,
		ButtonGrey:     d.ButtonGrey != 0,
		AppGift:        d.AppGift != 0,
		FreeDays:       int64(d.FreeDays),
		PayInstallType: int64(d.PayInstallType),
	}
}

// SameContent compares two info projections ignoring CreatedAt.
func (i EntityInfo) SameContent(other EntityInfo) bool {
	if !JSONEqual(i.Comment, other.Comment) {
		return false
	}
	if !sameTime(i.ListedAt, other.ListedAt) {
		return false
	}
	a, b := i, other
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	a.Comment, b.Comment = nil, nil
	a.ListedAt, b.ListedAt = nil, nil
	return reflect.DeepEqual(a, b)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// EntityMetric is the frequently-changing projection, appended once per change.
type EntityMetric struct {
	AppID           string    `json:"app_id"`
	Version         string    `json:"version"`
	VersionCode     int64     `json:"version_code"`
	SizeBytes       int64     `json:"size_bytes"`
	SHA256          string    `json:"sha256"`
	InfoScore       float64   `json:"info_score"`
	InfoRateCount   int64     `json:"info_rate_count"`
	DownloadCount   int64     `json:"download_count"`
	Price           string    `json:"price"`
	ReleaseDate     int64     `json:"release_date"`
	NewFeatures     string    `json:"new_features"`
	UpgradeMsg      string    `json:"upgrade_msg"`
	TargetSDK       int64     `json:"target_sdk"`
	MinSDK          int64     `json:"minsdk"`
	CompileSDK      int64     `json:"compile_sdk_version"`
	MinHMOSAPILevel int64     `json:"min_hmos_api_level"`
	APIReleaseType  string    `json:"api_release_type"`
	CreatedAt       time.Time `json:"created_at"`
}

// Metric projects the version, size, score and download fields.
func (d *RawDocument) Metric() EntityMetric {
	return EntityMetric{
		AppID:           sanitize(d.AppID),
		Version:         sanitize(d.Version.String()),
		VersionCode:     int64(d.VersionCode),
		SizeBytes:       int64(d.Size),
		SHA256:          sanitize(d.SHA256),
		InfoScore:       d.Hot.float64(),
		InfoRateCount:   d.RateNum.int64(),
		DownloadCount:   d.DownCount.int64(),
		Price:           sanitize(d.Price.String()),
		ReleaseDate:     int64(d.ReleaseDate),
		NewFeatures:     sanitize(d.NewFeatures),
		UpgradeMsg:      sanitize(d.UpgradeMsg),
		TargetSDK:       d.TargetSDK.int64(),
		MinSDK:          d.MinSDK.int64(),
		CompileSDK:      int64(d.CompileSDK),
		MinHMOSAPILevel: int64(d.MinHMOSAPILevel),
		APIReleaseType:  sanitize(d.APIReleaseType),
	}
}

// SameContent compares two metric projections ignoring CreatedAt.
func (m EntityMetric) SameContent(other EntityMetric) bool {
	a, b := m, other
	a.CreatedAt, b.CreatedAt = time.Time{}, time.Time{}
	return a == b
}

// EntityRating is the star distribution projection, appended once per change.
type EntityRating struct {
	AppID                string    `json:"app_id"`
	AverageRating        float64   `json:"average_rating"`
	Star1Count           int64     `json:"star_1_rating_count"`
	Star2Count           int64     `json:"star_2_rating_count"`
	Star3Count           int64     `json:"star_3_rating_count"`
	Star4Count           int64     `json:"star_4_rating_count"`
	Star5Count           int64     `json:"star_5_rating_count"`
	MyStarRating         int64     `json:"my_star_rating"`
	TotalStarRatingCount int64     `json:"total_star_rating_count"`
	OnlyStarCount        int64     `json:"only_star_count"`
	FullAverageRating    float64   `json:"full_average_rating"`
	SourceType           string    `json:"source_type"`
	CreatedAt            time.Time `json:"created_at"`
}

// Rating projects the star distribution for the given entity.
func (r *RatingDocument) Rating(appID string) EntityRating {
	return EntityRating{
		AppID:                appID,
		AverageRating:        r.AverageRating.float64(),
		Star1Count:           int64(r.OneStarCount),
		Star2Count:           int64(r.TwoStarCount),
		Star3Count:           int64(r.ThreeStarCount),
		Star4Count:           int64(r.FourStarCount),
		Star5Count:           int64(r.FiveStarCount),
		MyStarRating:         int64(r.MyStarRating),
		TotalStarRatingCount: int64(r.TotalStarRatingCount),
		OnlyStarCount:        int64(r.OnlyStarCount),
		FullAverageRating:    r.FullAverageRating.float64(),
		SourceType:           sanitize(r.SourceType.String()),
	}
}
