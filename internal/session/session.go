// Package session models the simulator's session document: the YAML
// string the telemetry feed sends whenever the session changes. YAML
// keys follow the simulator's spelling; the JSON tags define how the
// document is republished to MQTT and therefore the dotted paths that
// value templates use.
package session

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/treed/hairmqtt/internal/schema"
)

// Session is the top-level session document.
type Session struct {
	WeekendInfo   WeekendInfo   `yaml:"WeekendInfo" json:"weekend_info"`
	SessionInfo   SessionInfo   `yaml:"SessionInfo" json:"session_info"`
	DriverInfo    DriverInfo    `yaml:"DriverInfo" json:"driver_info"`
	SplitTimeInfo SplitTimeInfo `yaml:"SplitTimeInfo" json:"split_time_info"`
}

// WeekendInfo describes the track, series, and weather for the event.
type WeekendInfo struct {
	TrackName             string         `yaml:"TrackName" json:"track_name"`
	TrackID               int            `yaml:"TrackID" json:"track_id"`
	TrackLength           string         `yaml:"TrackLength" json:"track_length"`
	TrackDisplayName      string         `yaml:"TrackDisplayName" json:"track_display_name"`
	TrackDisplayShortName string         `yaml:"TrackDisplayShortName" json:"track_display_short_name"`
	TrackConfigName       string         `yaml:"TrackConfigName" json:"track_config_name"`
	TrackCity             string         `yaml:"TrackCity" json:"track_city"`
	TrackCountry          string         `yaml:"TrackCountry" json:"track_country"`
	TrackAltitude         string         `yaml:"TrackAltitude" json:"track_altitude"`
	TrackLatitude         string         `yaml:"TrackLatitude" json:"track_latitude"`
	TrackLongitude        string         `yaml:"TrackLongitude" json:"track_longitude"`
	TrackNumTurns         int            `yaml:"TrackNumTurns" json:"track_num_turns"`
	TrackPitSpeedLimit    string         `yaml:"TrackPitSpeedLimit" json:"track_pit_speed_limit"`
	TrackType             string         `yaml:"TrackType" json:"track_type"`
	TrackDirection        string         `yaml:"TrackDirection" json:"track_direction"`
	TrackWeatherType      string         `yaml:"TrackWeatherType" json:"track_weather_type"`
	TrackSkies            string         `yaml:"TrackSkies" json:"track_skies"`
	TrackSurfaceTemp      string         `yaml:"TrackSurfaceTemp" json:"track_surface_temp"`
	TrackAirTemp          string         `yaml:"TrackAirTemp" json:"track_air_temp"`
	TrackAirPressure      string         `yaml:"TrackAirPressure" json:"track_air_pressure"`
	TrackWindVel          string         `yaml:"TrackWindVel" json:"track_wind_vel"`
	TrackWindDir          string         `yaml:"TrackWindDir" json:"track_wind_dir"`
	TrackRelativeHumidity string         `yaml:"TrackRelativeHumidity" json:"track_relative_humidity"`
	TrackFogLevel         string         `yaml:"TrackFogLevel" json:"track_fog_level"`
	SeriesID              int            `yaml:"SeriesID" json:"series_id"`
	SeasonID              int            `yaml:"SeasonID" json:"season_id"`
	SessionID             int            `yaml:"SessionID" json:"session_id"`
	SubSessionID          int            `yaml:"SubSessionID" json:"sub_session_id"`
	LeagueID              int            `yaml:"LeagueID" json:"league_id"`
	Official              int            `yaml:"Official" json:"official"`
	RaceWeek              int            `yaml:"RaceWeek" json:"race_week"`
	EventType             string         `yaml:"EventType" json:"event_type"`
	Category              string         `yaml:"Category" json:"category"`
	SimMode               string         `yaml:"SimMode" json:"sim_mode"`
	TeamRacing            int            `yaml:"TeamRacing" json:"team_racing"`
	NumCarClasses         int            `yaml:"NumCarClasses" json:"num_car_classes"`
	NumCarTypes           int            `yaml:"NumCarTypes" json:"num_car_types"`
	WeekendOptions        WeekendOptions `yaml:"WeekendOptions" json:"weekend_options"`
}

// WeekendOptions holds the event rules.
type WeekendOptions struct {
	NumStarters        int    `yaml:"NumStarters" json:"num_starters"`
	StartingGrid       string `yaml:"StartingGrid" json:"starting_grid"`
	QualifyScoring     string `yaml:"QualifyScoring" json:"qualify_scoring"`
	CourseCautions     string `yaml:"CourseCautions" json:"course_cautions"`
	StandingStart      int    `yaml:"StandingStart" json:"standing_start"`
	Restarts           string `yaml:"Restarts" json:"restarts"`
	WeatherType        string `yaml:"WeatherType" json:"weather_type"`
	Skies              string `yaml:"Skies" json:"skies"`
	WindDirection      string `yaml:"WindDirection" json:"wind_direction"`
	WindSpeed          string `yaml:"WindSpeed" json:"wind_speed"`
	WeatherTemp        string `yaml:"WeatherTemp" json:"weather_temp"`
	RelativeHumidity   string `yaml:"RelativeHumidity" json:"relative_humidity"`
	FogLevel           string `yaml:"FogLevel" json:"fog_level"`
	TimeOfDay          string `yaml:"TimeOfDay" json:"time_of_day"`
	Date               string `yaml:"Date" json:"date"`
	Unofficial         int    `yaml:"Unofficial" json:"unofficial"`
	CommercialMode     string `yaml:"CommercialMode" json:"commercial_mode"`
	NightMode          string `yaml:"NightMode" json:"night_mode"`
	IsFixedSetup       int    `yaml:"IsFixedSetup" json:"is_fixed_setup"`
	StrictLapsChecking string `yaml:"StrictLapsChecking" json:"strict_laps_checking"`
	HardcoreLevel      int    `yaml:"HardcoreLevel" json:"hardcore_level"`
	NumJokerLaps       int    `yaml:"NumJokerLaps" json:"num_joker_laps"`
	IncidentLimit      string `yaml:"IncidentLimit" json:"incident_limit"`
	FastRepairsLimit   string `yaml:"FastRepairsLimit" json:"fast_repairs_limit"`
}

// SessionInfo lists the sessions (practice, qualify, race) of the event.
type SessionInfo struct {
	Sessions []SessionEntry `yaml:"Sessions" json:"sessions"`
}

// SessionEntry is one session of the event with its results so far.
type SessionEntry struct {
	SessionNum              int              `yaml:"SessionNum" json:"session_num"`
	SessionLaps             string           `yaml:"SessionLaps" json:"session_laps"`
	SessionTime             string           `yaml:"SessionTime" json:"session_time"`
	SessionNumLapsToAvg     int              `yaml:"SessionNumLapsToAvg" json:"session_num_laps_to_avg"`
	SessionType             string           `yaml:"SessionType" json:"session_type"`
	SessionTrackRubberState string           `yaml:"SessionTrackRubberState" json:"session_track_rubber_state"`
	SessionName             string           `yaml:"SessionName" json:"session_name"`
	SessionSubType          string           `yaml:"SessionSubType" json:"session_sub_type"`
	SessionSkipped          int              `yaml:"SessionSkipped" json:"session_skipped"`
	ResultsPositions        []ResultPosition `yaml:"ResultsPositions" json:"results_positions"`
	ResultsFastestLap       []FastestLap     `yaml:"ResultsFastestLap" json:"results_fastest_lap"`
	ResultsAverageLapTime   float64          `yaml:"ResultsAverageLapTime" json:"results_average_lap_time"`
	ResultsNumCautionFlags  int              `yaml:"ResultsNumCautionFlags" json:"results_num_caution_flags"`
	ResultsNumCautionLaps   int              `yaml:"ResultsNumCautionLaps" json:"results_num_caution_laps"`
	ResultsNumLeadChanges   int              `yaml:"ResultsNumLeadChanges" json:"results_num_lead_changes"`
	ResultsLapsComplete     int              `yaml:"ResultsLapsComplete" json:"results_laps_complete"`
	ResultsOfficial         int              `yaml:"ResultsOfficial" json:"results_official"`
}

// ResultPosition is one car's standing within a session.
type ResultPosition struct {
	Position          int     `yaml:"Position" json:"position"`
	ClassPosition     int     `yaml:"ClassPosition" json:"class_position"`
	CarIdx            int     `yaml:"CarIdx" json:"car_idx"`
	Lap               int     `yaml:"Lap" json:"lap"`
	Time              float64 `yaml:"Time" json:"time"`
	FastestLap        int     `yaml:"FastestLap" json:"fastest_lap"`
	FastestTime       float64 `yaml:"FastestTime" json:"fastest_time"`
	LastTime          float64 `yaml:"LastTime" json:"last_time"`
	LapsLed           int     `yaml:"LapsLed" json:"laps_led"`
	LapsComplete      int     `yaml:"LapsComplete" json:"laps_complete"`
	JokerLapsComplete int     `yaml:"JokerLapsComplete" json:"joker_laps_complete"`
	LapsDriven        float64 `yaml:"LapsDriven" json:"laps_driven"`
	Incidents         int     `yaml:"Incidents" json:"incidents"`
	ReasonOutID       int     `yaml:"ReasonOutId" json:"reason_out_id"`
	ReasonOutStr      string  `yaml:"ReasonOutStr" json:"reason_out_str"`
}

// FastestLap records the fastest lap of one car.
type FastestLap struct {
	CarIdx      int     `yaml:"CarIdx" json:"car_idx"`
	FastestLap  int     `yaml:"FastestLap" json:"fastest_lap"`
	FastestTime float64 `yaml:"FastestTime" json:"fastest_time"`
}

// DriverInfo describes the local driver's car and setup plus every
// car in the session.
type DriverInfo struct {
	DriverCarIdx              int      `yaml:"DriverCarIdx" json:"driver_car_idx"`
	CarDriverIdx              int      `yaml:"CarDriverIdx" json:"car_driver_idx"`
	DriverUserID              int      `yaml:"DriverUserID" json:"driver_user_id"`
	PaceCarIdx                int      `yaml:"PaceCarIdx" json:"pace_car_idx"`
	DriverHeadPosX            float64  `yaml:"DriverHeadPosX" json:"driver_head_pos_x"`
	DriverHeadPosY            float64  `yaml:"DriverHeadPosY" json:"driver_head_pos_y"`
	DriverHeadPosZ            float64  `yaml:"DriverHeadPosZ" json:"driver_head_pos_z"`
	DriverCarIsElectric       int      `yaml:"DriverCarIsElectric" json:"driver_car_is_electric"`
	DriverCarIdleRPM          float64  `yaml:"DriverCarIdleRPM" json:"driver_car_idle_rpm"`
	DriverCarRedLine          float64  `yaml:"DriverCarRedLine" json:"driver_car_red_line"`
	DriverCarEngCylinderCount int      `yaml:"DriverCarEngCylinderCount" json:"driver_car_eng_cylinder_count"`
	DriverCarFuelKgPerLtr     float64  `yaml:"DriverCarFuelKgPerLtr" json:"driver_car_fuel_kg_per_ltr"`
	DriverCarFuelMaxLtr       float64  `yaml:"DriverCarFuelMaxLtr" json:"driver_car_fuel_max_ltr"`
	DriverCarMaxFuelPct       float64  `yaml:"DriverCarMaxFuelPct" json:"driver_car_max_fuel_pct"`
	DriverCarGearNumForward   int      `yaml:"DriverCarGearNumForward" json:"driver_car_gear_num_forward"`
	DriverCarGearNeutral      int      `yaml:"DriverCarGearNeutral" json:"driver_car_gear_neutral"`
	DriverCarGearReverse      int      `yaml:"DriverCarGearReverse" json:"driver_car_gear_reverse"`
	DriverCarSLFirstRPM       float64  `yaml:"DriverCarSLFirstRPM" json:"driver_car_sl_first_rpm"`
	DriverCarSLShiftRPM       float64  `yaml:"DriverCarSLShiftRPM" json:"driver_car_sl_shift_rpm"`
	DriverCarSLLastRPM        float64  `yaml:"DriverCarSLLastRPM" json:"driver_car_sl_last_rpm"`
	DriverCarSLBlinkRPM       float64  `yaml:"DriverCarSLBlinkRPM" json:"driver_car_sl_blink_rpm"`
	DriverCarVersion          string   `yaml:"DriverCarVersion" json:"driver_car_version"`
	DriverPitTrkPct           float64  `yaml:"DriverPitTrkPct" json:"driver_pit_trk_pct"`
	DriverCarEstLapTime       float64  `yaml:"DriverCarEstLapTime" json:"driver_car_est_lap_time"`
	DriverSetupName           string   `yaml:"DriverSetupName" json:"driver_setup_name"`
	DriverSetupIsModified     int      `yaml:"DriverSetupIsModified" json:"driver_setup_is_modified"`
	DriverSetupLoadTypeName   string   `yaml:"DriverSetupLoadTypeName" json:"driver_setup_load_type_name"`
	DriverSetupPassedTech     int      `yaml:"DriverSetupPassedTech" json:"driver_setup_passed_tech"`
	DriverIncidentCount       int      `yaml:"DriverIncidentCount" json:"driver_incident_count"`
	Drivers                   []Driver `yaml:"Drivers" json:"drivers"`
}

// Driver is one car entry in the session.
type Driver struct {
	CarIdx                 int     `yaml:"CarIdx" json:"car_idx"`
	UserName               string  `yaml:"UserName" json:"user_name"`
	AbbrevName             string  `yaml:"AbbrevName" json:"abbrev_name"`
	Initials               string  `yaml:"Initials" json:"initials"`
	UserID                 int     `yaml:"UserID" json:"user_id"`
	TeamID                 int     `yaml:"TeamID" json:"team_id"`
	TeamName               string  `yaml:"TeamName" json:"team_name"`
	CarNumber              string  `yaml:"CarNumber" json:"car_number"`
	CarNumberRaw           int     `yaml:"CarNumberRaw" json:"car_number_raw"`
	CarPath                string  `yaml:"CarPath" json:"car_path"`
	CarClassID             int     `yaml:"CarClassID" json:"car_class_id"`
	CarID                  int     `yaml:"CarID" json:"car_id"`
	CarIsPaceCar           int     `yaml:"CarIsPaceCar" json:"car_is_pace_car"`
	CarIsAI                int     `yaml:"CarIsAI" json:"car_is_ai"`
	CarIsElectric          int     `yaml:"CarIsElectric" json:"car_is_electric"`
	CarScreenName          string  `yaml:"CarScreenName" json:"car_screen_name"`
	CarScreenNameShort     string  `yaml:"CarScreenNameShort" json:"car_screen_name_short"`
	CarClassShortName      string  `yaml:"CarClassShortName" json:"car_class_short_name"`
	CarClassRelSpeed       int     `yaml:"CarClassRelSpeed" json:"car_class_rel_speed"`
	CarClassLicenseLevel   int     `yaml:"CarClassLicenseLevel" json:"car_class_license_level"`
	CarClassMaxFuelPct     string  `yaml:"CarClassMaxFuelPct" json:"car_class_max_fuel_pct"`
	CarClassWeightPenalty  string  `yaml:"CarClassWeightPenalty" json:"car_class_weight_penalty"`
	CarClassPowerAdjust    string  `yaml:"CarClassPowerAdjust" json:"car_class_power_adjust"`
	CarClassColor          string  `yaml:"CarClassColor" json:"car_class_color"`
	CarClassEstLapTime     float64 `yaml:"CarClassEstLapTime" json:"car_class_est_lap_time"`
	IRating                int     `yaml:"IRating" json:"i_rating"`
	LicLevel               int     `yaml:"LicLevel" json:"lic_level"`
	LicSubLevel            int     `yaml:"LicSubLevel" json:"lic_sub_level"`
	LicString              string  `yaml:"LicString" json:"lic_string"`
	LicColor               string  `yaml:"LicColor" json:"lic_color"`
	IsSpectator            int     `yaml:"IsSpectator" json:"is_spectator"`
	CarDesignStr           string  `yaml:"CarDesignStr" json:"car_design_str"`
	HelmetDesignStr        string  `yaml:"HelmetDesignStr" json:"helmet_design_str"`
	SuitDesignStr          string  `yaml:"SuitDesignStr" json:"suit_design_str"`
	ClubName               string  `yaml:"ClubName" json:"club_name"`
	DivisionName           string  `yaml:"DivisionName" json:"division_name"`
	CurDriverIncidentCount int     `yaml:"CurDriverIncidentCount" json:"cur_driver_incident_count"`
	TeamIncidentCount      int     `yaml:"TeamIncidentCount" json:"team_incident_count"`
}

// SplitTimeInfo lists the timing sectors of the track.
type SplitTimeInfo struct {
	Sectors []Sector `yaml:"Sectors" json:"sectors"`
}

// Sector is one timing sector.
type Sector struct {
	SectorNum      int     `yaml:"SectorNum" json:"sector_num"`
	SectorStartPct float64 `yaml:"SectorStartPct" json:"sector_start_pct"`
}

// Parse decodes a session YAML string. Keys the model does not know
// are ignored.
func Parse(text string) (*Session, error) {
	var s Session
	if err := yaml.Unmarshal([]byte(text), &s); err != nil {
		return nil, fmt.Errorf("parse session yaml: %w", err)
	}
	return &s, nil
}

// Schema returns a freshly built schema tree for [Session].
func Schema() *schema.Node {
	return schema.FromValue(Session{})
}

var resolver = schema.NewResolver(Schema)

// Resolver returns the process-wide memoizing resolver over [Schema].
// The session shape never changes at runtime, so cached paths stay
// valid for the life of the process.
func Resolver() *schema.Resolver {
	return resolver
}
