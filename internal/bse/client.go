// Package bse fetches regulatory announcements and quotes from the BSE public
// API. The client returns whatever the exchange reports for one scrip and
// window; it does not retry or paginate.
package bse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bsewatch/bsewatch/internal/models"
)

const newsDTLayout = "2006-01-02T15:04:05"

type Client struct {
	baseURL    string
	pdfBaseURL string
	client     *http.Client
}

func NewClient(baseURL, pdfBaseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		pdfBaseURL: pdfBaseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type annResponse struct {
	Table []struct {
		NewsID         string      `json:"NEWSID"`
		ScripCD        json.Number `json:"SCRIP_CD"`
		SLongName      string      `json:"SLONGNAME"`
		Headline       string      `json:"HEADLINE"`
		CategoryName   string      `json:"CATEGORYNAME"`
		NewsDT         string      `json:"NEWS_DT"`
		AttachmentName string      `json:"ATTACHMENTNAME"`
	} `json:"Table"`
}

func (c *Client) FetchAnnouncements(ctx context.Context, scripCode string, since time.Time) ([]models.Announcement, error) {
	url := fmt.Sprintf(
		"%s/BseIndiaAPI/api/AnnGetData/w?pageno=1&strCat=-1&strPrevDate=%s&strScrip=%s&strSearch=P&strToDate=%s&strType=C",
		c.baseURL, since.Format("20060102"), scripCode, time.Now().Format("20060102"),
	)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	setBSEHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bse announcements returned status %d", resp.StatusCode)
	}

	var apiResp annResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}

	announcements := make([]models.Announcement, 0, len(apiResp.Table))
	for _, row := range apiResp.Table {
		annDT, err := time.ParseInLocation(newsDTLayout, row.NewsDT, time.Local)
		if err != nil {
			annDT = time.Time{}
		}
		if !annDT.IsZero() && annDT.Before(since) {
			continue
		}
		announcements = append(announcements, models.Announcement{
			NewsID:      row.NewsID,
			Headline:    strings.TrimSpace(row.Headline),
			CompanyName: strings.TrimSpace(row.SLongName),
			ScripCode:   row.ScripCD.String(),
			Category:    strings.TrimSpace(row.CategoryName),
			AnnDT:       annDT,
			PDFName:     strings.TrimSpace(row.AttachmentName),
		})
	}

	return announcements, nil
}

type quoteResponse struct {
	CurrRate struct {
		LTP   json.Number `json:"LTP"`
		PcChg json.Number `json:"PcChg"`
	} `json:"CurrRate"`
}

// FetchQuote returns the last traded price and percent change for one scrip.
func (c *Client) FetchQuote(ctx context.Context, scripCode string) (*models.Quote, error) {
	url := fmt.Sprintf("%s/BseIndiaAPI/api/getScripHeaderData/w?Debtflag=&scripcode=%s&seriesid=", c.baseURL, scripCode)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	setBSEHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bse quote returned status %d", resp.StatusCode)
	}

	var apiResp quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, err
	}

	price, _ := apiResp.CurrRate.LTP.Float64()
	changePct, _ := apiResp.CurrRate.PcChg.Float64()
	return &models.Quote{
		ScripCode: scripCode,
		LastPrice: price,
		ChangePct: changePct,
	}, nil
}

// AttachmentURL resolves the download URL for an announcement's PDF name.
func (c *Client) AttachmentURL(pdfName string) string {
	return c.pdfBaseURL + pdfName
}

// The exchange rejects requests without browser-looking headers.
func setBSEHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	req.Header.Set("Referer", "https://www.bseindia.com/")
	req.Header.Set("Accept", "application/json, text/plain, */*")
}
