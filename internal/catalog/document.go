package catalog

import (
	"encoding/json"
	"errors"
	"strings"
)

// Defaults applied when the remote omits optional attributes.
const (
	DefaultHot            = "0.0"
	DefaultRateNum        = "0"
	DefaultAPIReleaseType = "Release"
)

// RawDocument is the entity payload returned by the remote lookup. Optional
// attributes the remote is known to drop keep their stated defaults.
type RawDocument struct {
	AppID            string   `json:"appId"`
	AllianceAppID    Text     `json:"allianceAppId"`
	Name             string   `json:"name"`
	PkgName          string   `json:"pkgName"`
	DevID            Text     `json:"devId"`
	DeveloperName    string   `json:"developerName"`
	DevEnName        string   `json:"devEnName"`
	Supplier         string   `json:"supplier"`
	KindID           Text     `json:"kindId"`
	KindName         string   `json:"kindName"`
	TagName          *string  `json:"tagName"`
	KindTypeID       Text     `json:"kindTypeId"`
	KindTypeName     string   `json:"kindTypeName"`
	Icon             string   `json:"icon"`
	BriefDes         string   `json:"briefDes"`
	Description      string   `json:"description"`
	PrivacyURL       string   `json:"privacyUrl"`
	CType            Int      `json:"ctype"`
	DetailID         Text     `json:"detailId"`
	AppLevel         Int      `json:"appLevel"`
	JocatID          Int      `json:"jocatId"`
	IAP              Int      `json:"iap"`
	HMS              Int      `json:"hms"`
	TariffType       Text     `json:"tariffType"`
	PackingType      Int      `json:"packingType"`
	OrderApp         Int      `json:"orderApp"`
	DependGMS        Int      `json:"denpendGms"`
	DependHMS        Int      `json:"denpendHms"`
	ForceUpdate      Int      `json:"forceUpdate"`
	ImgTag           Text     `json:"imgTag"`
	IsPay            Text     `json:"isPay"`
	IsDisciplined    Int      `json:"isDisciplined"`
	IsShelves        Int      `json:"isShelves"`
	SubmitType       Int      `json:"submitType"`
	DeleteArchive    Int      `json:"deleteArchive"`
	Charging         Int      `json:"charging"`
	ButtonGrey       Int      `json:"buttonGrey"`
	AppGift          Int      `json:"appGift"`
	FreeDays         Int      `json:"freeDays"`
	PayInstallType   Int      `json:"payInstallType"`
	Version          Text     `json:"version"`
	VersionCode      Int      `json:"versionCode"`
	Size             Int      `json:"size"`
	SHA256           string   `json:"sha256"`
	Hot              Text     `json:"hot"`
	RateNum          Text     `json:"rateNum"`
	DownCount        Text     `json:"downCount"`
	Price            Text     `json:"price"`
	ReleaseDate      Int      `json:"releaseDate"`
	NewFeatures      string   `json:"newFeatures"`
	UpgradeMsg       string   `json:"upgradeMsg"`
	TargetSDK        Text     `json:"targetSdk"`
	MinSDK           Text     `json:"minsdk"`
	CompileSDK       Int      `json:"compileSdkVersion"`
	MinHMOSAPILevel  Int      `json:"minHmosApiLevel"`
	APIReleaseType   string   `json:"apiReleaseType"`
	MainDeviceCodes  []Int    `json:"mainDeviceCodes"`
	ReleaseCountries []string `json:"releaseCountries"`

	// Raw is the normalized document used for change detection and storage.
	Raw json.RawMessage `json:"-"`
}

func newDocument() *RawDocument {
	return &RawDocument{
		Hot:             DefaultHot,
		RateNum:         DefaultRateNum,
		APIReleaseType:  DefaultAPIReleaseType,
		MainDeviceCodes: []Int{0},
	}
}

// DecodeDocument normalizes and parses an entity response body.
func DecodeDocument(body []byte) (*RawDocument, error) {
	canonical, err := Normalize(body)
	if err != nil {
		return nil, &DecodeError{What: "entity document", Err: err}
	}
	doc := newDocument()
	if err := json.Unmarshal(canonical, doc); err != nil {
		return nil, &DecodeError{What: "entity document", Err: err}
	}
	if strings.TrimSpace(doc.AppID) == "" {
		return nil, &DecodeError{What: "entity document", Err: errors.New("appId is missing")}
	}
	doc.Raw = canonical
	return doc, nil
}

// Key returns the canonical key of the decoded entity.
func (d *RawDocument) Key() EntityKey {
	return AppID(d.AppID)
}

// RatingDocument is the star distribution carried by the comment card.
type RatingDocument struct {
	AverageRating        Text `json:"averageRating"`
	OneStarCount         Int  `json:"oneStarRatingCount"`
	TwoStarCount         Int  `json:"twoStarRatingCount"`
	ThreeStarCount       Int  `json:"threeStarRatingCount"`
	FourStarCount        Int  `json:"fourStarRatingCount"`
	FiveStarCount        Int  `json:"fiveStarRatingCount"`
	MyStarRating         Int  `json:"myStarRating"`
	TotalStarRatingCount Int  `json:"totalStarRatingCount"`
	OnlyStarCount        Int  `json:"onlyStarCount"`
	FullAverageRating    Text `json:"fullAverageRating"`
	SourceType           Text `json:"sourceType"`

	// Raw is the canonical payload compared against the last stored rating.
	Raw json.RawMessage `json:"-"`
}

// DecodeRating parses the starInfo payload.
func DecodeRating(payload []byte) (*RatingDocument, error) {
	canonical, err := Canonical(payload)
	if err != nil {
		return nil, &DecodeError{What: "rating payload", Err: err}
	}
	var rating RatingDocument
	if err := json.Unmarshal(canonical, &rating); err != nil {
		return nil, &DecodeError{What: "rating payload", Err: err}
	}
	rating.Raw = canonical
	return &rating, nil
}
