package riot

import (
	"errors"
	"fmt"
	"time"

	"lol-match-alerts/internal/storage"
)

// matchDTO mirrors the subset of the match-v5 response the service consumes.
type matchDTO struct {
	Metadata struct {
		MatchID      string   `json:"matchId"`
		Participants []string `json:"participants"`
	} `json:"metadata"`
	Info struct {
		GameStartTimestamp int64  `json:"gameStartTimestamp"`
		GameDuration       int64  `json:"gameDuration"`
		GameMode           string `json:"gameMode"`
		GameVersion        string `json:"gameVersion"`
		QueueID            int    `json:"queueId"`
		Participants       []struct {
			PUUID                       string `json:"puuid"`
			SummonerName                string `json:"summonerName"`
			RiotIDGameName              string `json:"riotIdGameName"`
			ChampionID                  int    `json:"championId"`
			ChampionName                string `json:"championName"`
			TeamID                      int    `json:"teamId"`
			TeamPosition                string `json:"teamPosition"`
			Kills                       int    `json:"kills"`
			Deaths                      int    `json:"deaths"`
			Assists                     int    `json:"assists"`
			TotalDamageDealtToChampions int64  `json:"totalDamageDealtToChampions"`
			GoldEarned                  int    `json:"goldEarned"`
			VisionScore                 int    `json:"visionScore"`
			TotalMinionsKilled          int    `json:"totalMinionsKilled"`
			NeutralMinionsKilled        int    `json:"neutralMinionsKilled"`
			Win                         bool   `json:"win"`
		} `json:"participants"`
	} `json:"info"`
}

// toRecord validates the DTO and converts it to the storage representation.
func (d *matchDTO) toRecord() (*storage.MatchRecord, error) {
	if d.Metadata.MatchID == "" {
		return nil, errors.New("missing metadata.matchId")
	}
	if d.Info.GameStartTimestamp <= 0 {
		return nil, fmt.Errorf("match %s: missing gameStartTimestamp", d.Metadata.MatchID)
	}
	if len(d.Info.Participants) == 0 {
		return nil, fmt.Errorf("match %s: no participants", d.Metadata.MatchID)
	}

	rec := &storage.MatchRecord{
		MatchID:      d.Metadata.MatchID,
		GameStart:    time.UnixMilli(d.Info.GameStartTimestamp).UTC(),
		GameDuration: int(d.Info.GameDuration),
		GameMode:     d.Info.GameMode,
		GameVersion:  d.Info.GameVersion,
		QueueID:      d.Info.QueueID,
		Participants: make([]storage.Participant, 0, len(d.Info.Participants)),
	}

	for i, p := range d.Info.Participants {
		if p.PUUID == "" {
			return nil, fmt.Errorf("match %s: participant %d missing puuid", rec.MatchID, i)
		}
		name := p.RiotIDGameName
		if name == "" {
			name = p.SummonerName
		}
		rec.Participants = append(rec.Participants, storage.Participant{
			PUUID:        p.PUUID,
			SummonerName: name,
			ChampionID:   p.ChampionID,
			ChampionName: p.ChampionName,
			TeamID:       p.TeamID,
			Role:         p.TeamPosition,
			Kills:        p.Kills,
			Deaths:       p.Deaths,
			Assists:      p.Assists,
			DamageDealt:  p.TotalDamageDealtToChampions,
			GoldEarned:   p.GoldEarned,
			VisionScore:  p.VisionScore,
			CreepScore:   p.TotalMinionsKilled + p.NeutralMinionsKilled,
			Win:          p.Win,
		})
	}

	return rec, nil
}
